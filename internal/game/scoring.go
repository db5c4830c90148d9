package game

import (
	"math"
	"sort"

	"quiz-arena-service/internal/domain"
)

const (
	basePoints  = 1000
	floorPoints = 500
)

// Score computes the points for one answer. Correct answers decay linearly
// from 1000 down to a 500 floor as elapsed time approaches the question
// timer; incorrect answers are always worth 0.
func Score(isCorrect bool, timeTaken float64, timerSeconds int) int {
	if !isCorrect || timerSeconds <= 0 {
		return 0
	}
	ratio := timeTaken / float64(timerSeconds)
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	points := int(math.Round(basePoints * (1 - 0.5*ratio)))
	if points < floorPoints {
		points = floorPoints
	}
	return points
}

// BaseXP is the per-player XP for a finished game.
func BaseXP(score int) int {
	return score / 10
}

// WinnerBonus is the extra XP for first place, scaled by how many opponents
// were beaten.
func WinnerBonus(playerCount int) int {
	if playerCount <= 1 {
		return 0
	}
	return 10 * (playerCount - 1)
}

// Rank orders the roster into final rankings: score descending, then
// correct-answer count descending, then username ascending. The tie-break
// is deliberately deterministic so repeated finalize calls agree.
func Rank(players []domain.Player, scores, correct map[string]int) []domain.Ranking {
	rankings := make([]domain.Ranking, 0, len(players))
	for _, p := range players {
		rankings = append(rankings, domain.Ranking{
			UserID:   p.UserID,
			Username: p.Username,
			Score:    scores[p.UserID],
		})
	}
	sort.Slice(rankings, func(i, j int) bool {
		if rankings[i].Score != rankings[j].Score {
			return rankings[i].Score > rankings[j].Score
		}
		if correct[rankings[i].UserID] != correct[rankings[j].UserID] {
			return correct[rankings[i].UserID] > correct[rankings[j].UserID]
		}
		return rankings[i].Username < rankings[j].Username
	})
	for i := range rankings {
		rankings[i].Rank = i + 1
	}
	return rankings
}
