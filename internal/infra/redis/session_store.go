// Package redis implements the ephemeral state store and the event bus on a
// Redis instance. Live game state is decomposed across targeted keys so
// every mutation is one atomic Redis command; nothing ever rewrites a whole
// session document.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-arena-service/internal/domain"
)

// SessionStore holds live game sessions keyed by lobby code, with a TTL so
// orphaned sessions are eventually reclaimed.
//
// Key layout:
//
//	game:{CODE}:meta           immutable session document (JSON)
//	game:{CODE}:index          current question index
//	game:{CODE}:scores         hash user_id -> cumulative score
//	game:{CODE}:answers:{uid}  hash question_index -> answer record (JSON)
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) CreateSession(ctx context.Context, sess domain.GameSession, playerIDs []string) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, metaKey(sess.LobbyCode), raw, s.ttl)
	pipe.Set(ctx, indexKey(sess.LobbyCode), -1, s.ttl)
	for _, id := range playerIDs {
		pipe.HSet(ctx, scoresKey(sess.LobbyCode), id, 0)
	}
	pipe.Expire(ctx, scoresKey(sess.LobbyCode), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create session %s: %w", sess.LobbyCode, err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, code string) (domain.GameSession, error) {
	raw, err := s.client.Get(ctx, metaKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.GameSession{}, fmt.Errorf("get session %s: %w", code, err)
	}
	var sess domain.GameSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return domain.GameSession{}, fmt.Errorf("decode session %s: %w", code, err)
	}
	return sess, nil
}

func (s *SessionStore) SetQuestionIndex(ctx context.Context, code string, index int) error {
	if err := s.client.Set(ctx, indexKey(code), index, s.ttl).Err(); err != nil {
		return fmt.Errorf("set question index %s: %w", code, err)
	}
	return nil
}

func (s *SessionStore) QuestionIndex(ctx context.Context, code string) (int, error) {
	val, err := s.client.Get(ctx, indexKey(code)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get question index %s: %w", code, err)
	}
	return val, nil
}

// RecordAnswer inserts an answer record if and only if none exists for the
// (user, question index) pair. HSETNX makes the check-and-insert a single
// atomic operation, which is what enforces the no-duplicates invariant
// under concurrent submissions.
func (s *SessionStore) RecordAnswer(ctx context.Context, code, userID string, rec domain.AnswerRecord) (bool, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode answer: %w", err)
	}
	key := answersKey(code, userID)
	inserted, err := s.client.HSetNX(ctx, key, strconv.Itoa(rec.QuestionIndex), raw).Result()
	if err != nil {
		return false, fmt.Errorf("record answer %s/%s: %w", code, userID, err)
	}
	if inserted {
		s.client.Expire(ctx, key, s.ttl)
	}
	return inserted, nil
}

func (s *SessionStore) AddScore(ctx context.Context, code, userID string, points int) (int, error) {
	total, err := s.client.HIncrBy(ctx, scoresKey(code), userID, int64(points)).Result()
	if err != nil {
		return 0, fmt.Errorf("add score %s/%s: %w", code, userID, err)
	}
	return int(total), nil
}

func (s *SessionStore) Scores(ctx context.Context, code string) (map[string]int, error) {
	raw, err := s.client.HGetAll(ctx, scoresKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("get scores %s: %w", code, err)
	}
	scores := make(map[string]int, len(raw))
	for userID, val := range raw {
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("parse score %s/%s: %w", code, userID, err)
		}
		scores[userID] = n
	}
	return scores, nil
}

func (s *SessionStore) Answers(ctx context.Context, code, userID string) ([]domain.AnswerRecord, error) {
	raw, err := s.client.HGetAll(ctx, answersKey(code, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get answers %s/%s: %w", code, userID, err)
	}
	records := make([]domain.AnswerRecord, 0, len(raw))
	for _, val := range raw {
		var rec domain.AnswerRecord
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			return nil, fmt.Errorf("decode answer %s/%s: %w", code, userID, err)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].QuestionIndex < records[j].QuestionIndex
	})
	return records, nil
}

func (s *SessionStore) HasAnswer(ctx context.Context, code, userID string, index int) (bool, error) {
	exists, err := s.client.HExists(ctx, answersKey(code, userID), strconv.Itoa(index)).Result()
	if err != nil {
		return false, fmt.Errorf("check answer %s/%s: %w", code, userID, err)
	}
	return exists, nil
}

func metaKey(code string) string   { return "game:" + code + ":meta" }
func indexKey(code string) string  { return "game:" + code + ":index" }
func scoresKey(code string) string { return "game:" + code + ":scores" }
func answersKey(code, userID string) string {
	return "game:" + code + ":answers:" + userID
}
