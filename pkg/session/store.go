package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/fitstack/fitstack/pkg/observability"
)

// ErrNotFound marks a token with no live session
var ErrNotFound = errors.New("session not found")

// Session is the server-side state behind a session cookie. It carries only
// the principal id; the current membership is resolved fresh from the
// database on every request.
type Session struct {
	PrincipalID int64     `json:"principal_id"`
	CreatedAt   time.Time `json:"created_at"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
}

// Store keeps sessions in Redis, keyed by opaque token, with a per-principal
// index so all of a principal's sessions can be destroyed at once.
type Store struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewStore creates a session store. metrics may be nil.
func NewStore(client *redis.Client, ttl time.Duration, metrics *observability.Metrics) *Store {
	return &Store{client: client, ttl: ttl, metrics: metrics}
}

func sessionKey(token string) string {
	return "session:" + token
}

func principalKey(principalID int64) string {
	return fmt.Sprintf("principal_sessions:%d", principalID)
}

// Create stores a new session and returns its token
func (s *Store) Create(ctx context.Context, sess *Session) (string, error) {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	token := uuid.NewString()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(token), data, s.ttl)
	pipe.SAdd(ctx, principalKey(sess.PrincipalID), token)
	pipe.Expire(ctx, principalKey(sess.PrincipalID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.record("create", err)
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	s.record("create", nil)
	if s.metrics != nil {
		s.metrics.SessionsActive.Inc()
	}
	return token, nil
}

// Get retrieves a session by token and slides its expiry
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if err == redis.Nil {
		s.record("get", ErrNotFound)
		return nil, ErrNotFound
	}
	if err != nil {
		s.record("get", err)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	s.client.Expire(ctx, sessionKey(token), s.ttl)
	s.record("get", nil)
	return &sess, nil
}

// Destroy removes a session by token
func (s *Store) Destroy(ctx context.Context, token string) error {
	sess, err := s.Get(ctx, token)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(token))
	pipe.SRem(ctx, principalKey(sess.PrincipalID), token)
	if _, err := pipe.Exec(ctx); err != nil {
		s.record("destroy", err)
		return fmt.Errorf("failed to destroy session: %w", err)
	}

	s.record("destroy", nil)
	if s.metrics != nil {
		s.metrics.SessionsActive.Dec()
	}
	return nil
}

// DestroyAllForPrincipal removes every live session of a principal. Used by
// force-logout so no stale tenant context survives anywhere.
func (s *Store) DestroyAllForPrincipal(ctx context.Context, principalID int64) error {
	tokens, err := s.client.SMembers(ctx, principalKey(principalID)).Result()
	if err != nil {
		s.record("destroy_all", err)
		return fmt.Errorf("failed to list principal sessions: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, token := range tokens {
		pipe.Del(ctx, sessionKey(token))
	}
	pipe.Del(ctx, principalKey(principalID))
	if _, err := pipe.Exec(ctx); err != nil {
		s.record("destroy_all", err)
		return fmt.Errorf("failed to destroy principal sessions: %w", err)
	}

	s.record("destroy_all", nil)
	if s.metrics != nil {
		s.metrics.SessionsActive.Sub(float64(len(tokens)))
	}
	return nil
}

// PruneIndexes drops index entries whose session key has already expired.
// Sessions themselves expire via TTL; this only tidies the per-principal
// sets so force-logout never iterates dead tokens. Called by the scheduled
// job, not by request handlers.
func (s *Store) PruneIndexes(ctx context.Context) (int64, error) {
	var pruned int64
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "principal_sessions:*", 100).Result()
		if err != nil {
			s.record("prune", err)
			return pruned, fmt.Errorf("failed to scan session indexes: %w", err)
		}

		for _, key := range keys {
			tokens, err := s.client.SMembers(ctx, key).Result()
			if err != nil {
				s.record("prune", err)
				return pruned, fmt.Errorf("failed to list session index %s: %w", key, err)
			}
			for _, token := range tokens {
				exists, err := s.client.Exists(ctx, sessionKey(token)).Result()
				if err != nil {
					s.record("prune", err)
					return pruned, fmt.Errorf("failed to check session %s: %w", token, err)
				}
				if exists == 0 {
					if err := s.client.SRem(ctx, key, token).Err(); err != nil {
						s.record("prune", err)
						return pruned, fmt.Errorf("failed to prune session index: %w", err)
					}
					pruned++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.record("prune", nil)
	return pruned, nil
}

func (s *Store) record(operation string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	if err == ErrNotFound {
		outcome = "miss"
	} else if err != nil {
		outcome = "error"
	}
	s.metrics.RecordSessionOperation(operation, outcome)
}
