package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"prep-session-service/internal/app"
	"prep-session-service/internal/domain"
)

// SessionStore decorates another session store with Redis liveness markers
// so an ops surface can see which sessions are currently engaged. The
// backing store (memory or Postgres) stays authoritative.
type SessionStore struct {
	inner  app.SessionStore
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(inner app.SessionStore, client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{inner: inner, client: client, ttl: ttl}
}

func (s *SessionStore) Save(ctx context.Context, session domain.Session) error {
	if err := s.inner.Save(ctx, session); err != nil {
		return err
	}
	// best-effort liveness marker
	key := s.key(session.ID)
	switch session.Status {
	case domain.StatusInProgress, domain.StatusPaused:
		_ = s.client.Set(ctx, key, session.UserID, s.ttl).Err()
	default:
		_ = s.client.Del(ctx, key).Err()
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (domain.Session, error) {
	return s.inner.Get(ctx, id)
}

func (s *SessionStore) FindActive(ctx context.Context, userID, assignmentID string) (domain.Session, bool, error) {
	return s.inner.FindActive(ctx, userID, assignmentID)
}

func (s *SessionStore) key(sessionID string) string {
	return "session:active:" + sessionID
}
