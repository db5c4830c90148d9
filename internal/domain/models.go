package domain

import "time"

// LobbyStatus is the lifecycle state of a lobby. Transitions are monotonic:
// waiting -> countdown -> in_progress -> completed. A lobby in any state is
// deleted outright when its last player leaves.
type LobbyStatus string

const (
	StatusWaiting    LobbyStatus = "waiting"
	StatusCountdown  LobbyStatus = "countdown"
	StatusInProgress LobbyStatus = "in_progress"
	StatusCompleted  LobbyStatus = "completed"
)

// User identifies an authenticated player. Authentication itself is handled
// upstream; this service only carries the identity through.
type User struct {
	ID       string `json:"user_id"`
	Username string `json:"username"`
	Picture  string `json:"picture"`
}

// Player is a lobby roster entry. UserID is unique within a lobby.
type Player struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Picture   string `json:"picture"`
	Ready     bool   `json:"ready"`
	Score     int    `json:"score"`
	Connected bool   `json:"connected"`
}

// QuestionSet is one entry of a lobby's question-generation plan: generate
// Count questions for the given category/subject at the given difficulty.
type QuestionSet struct {
	Category   string `json:"category"`
	Subject    string `json:"subject"`
	Difficulty int    `json:"difficulty"`
	Count      int    `json:"count"`
}

// Lobby is the authoritative record of a pending or running match.
type Lobby struct {
	Code            string        `json:"lobby_code"`
	CreatorID       string        `json:"creator_id"`
	CreatorUsername string        `json:"creator_username"`
	Players         []Player      `json:"players"`
	Categories      []string      `json:"categories"`
	Difficulty      int           `json:"difficulty"`
	QuestionTimer   int           `json:"question_timer"`
	MaxPlayers      int           `json:"max_players"`
	QuestionList    []QuestionSet `json:"question_list"`
	Status          LobbyStatus   `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	ExpireAt        time.Time     `json:"expire_at"`
}

// Player returns the roster entry for userID, if present.
func (l *Lobby) Player(userID string) (Player, bool) {
	for _, p := range l.Players {
		if p.UserID == userID {
			return p, true
		}
	}
	return Player{}, false
}

// AllReady reports whether the roster is non-empty and every player is ready.
func (l *Lobby) AllReady() bool {
	if len(l.Players) == 0 {
		return false
	}
	for _, p := range l.Players {
		if !p.Ready {
			return false
		}
	}
	return true
}

// Question is a generated multiple-choice question. CorrectAnswer is always
// one of Options; the correct option's position is randomized at generation
// time so clients cannot infer it positionally.
type Question struct {
	Text          string   `json:"question_text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Category      string   `json:"category"`
	Difficulty    int      `json:"difficulty"`
}

// GameSession is the live run of a started lobby. It is held in the
// ephemeral store for the duration of the game; a snapshot is written to the
// durable store once, at creation.
type GameSession struct {
	ID            string     `json:"session_id"`
	LobbyCode     string     `json:"lobby_code"`
	Questions     []Question `json:"questions"`
	QuestionTimer int        `json:"question_timer"`
	CreatedAt     time.Time  `json:"created_at"`
}

// AnswerRecord is one player's answer to one question. Records are
// append-only and immutable; at most one exists per (user, question index).
type AnswerRecord struct {
	QuestionIndex int     `json:"question_index"`
	Answer        string  `json:"answer"`
	IsCorrect     bool    `json:"is_correct"`
	Points        int     `json:"points"`
	TimeTaken     float64 `json:"time_taken"`
}

// Standing is a mid-game scoreboard row, broadcast after every phase.
type Standing struct {
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correct_answers_so_far"`
}

// Ranking is a final scoreboard row with the XP earned for the game.
type Ranking struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Score    int    `json:"score"`
	XPEarned int    `json:"xp_earned"`
}

// ChatMessage is a lobby chat entry. History is capped per lobby.
type ChatMessage struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
