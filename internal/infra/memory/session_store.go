package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"prep-session-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore. It also
// serves as the visibility resolver's attempt history, since both read the
// same rows.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]domain.Session)}
}

func (s *SessionStore) Save(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) FindActive(_ context.Context, userID, assignmentID string) (domain.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.UserID != userID || session.AssignmentID != assignmentID {
			continue
		}
		if session.Status == domain.StatusInProgress || session.Status == domain.StatusPaused {
			return session, true, nil
		}
	}
	return domain.Session{}, false, nil
}

// CompletedCount implements visibility.AttemptHistory.
func (s *SessionStore) CompletedCount(_ context.Context, userID, assignmentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, session := range s.sessions {
		if session.UserID == userID && session.AssignmentID == assignmentID && session.Status == domain.StatusCompleted {
			count++
		}
	}
	return count, nil
}

// LastCompletedAt implements visibility.AttemptHistory.
func (s *SessionStore) LastCompletedAt(_ context.Context, userID, assignmentID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *time.Time
	for _, session := range s.sessions {
		if session.UserID != userID || session.AssignmentID != assignmentID {
			continue
		}
		if session.Status != domain.StatusCompleted || session.FinishedAt == nil {
			continue
		}
		if last == nil || session.FinishedAt.After(*last) {
			finished := *session.FinishedAt
			last = &finished
		}
	}
	return last, nil
}

// AnswerStore is an in-memory implementation of app.AnswerStore.
type AnswerStore struct {
	mu sync.RWMutex
	// answers[sessionID][questionID]
	answers map[string]map[string]domain.Answer
	// byUser keeps per-user submissions for the reuse-cooldown query.
	byUser map[string][]domain.Answer
	// ownerFn maps a session id to its user for the per-user index; wired
	// by BindSessionOwner.
	ownerFn func(sessionID string) string
}

func NewAnswerStore() *AnswerStore {
	return &AnswerStore{
		answers: make(map[string]map[string]domain.Answer),
		byUser:  make(map[string][]domain.Answer),
	}
}

func (s *AnswerStore) Save(_ context.Context, answer domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySession, ok := s.answers[answer.SessionID]
	if !ok {
		bySession = make(map[string]domain.Answer)
		s.answers[answer.SessionID] = bySession
	}
	bySession[answer.QuestionID] = answer
	if owner := s.owner(answer.SessionID); owner != "" {
		s.byUser[owner] = append(s.byUser[owner], answer)
	}
	return nil
}

func (s *AnswerStore) Get(_ context.Context, sessionID, questionID string) (domain.Answer, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	answer, ok := s.answers[sessionID][questionID]
	return answer, ok, nil
}

func (s *AnswerStore) BySession(_ context.Context, sessionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Answer, 0, len(s.answers[sessionID]))
	for _, answer := range s.answers[sessionID] {
		out = append(out, answer)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AnsweredAt.Before(out[j].AnsweredAt)
	})
	return out, nil
}

func (s *AnswerStore) RecentQuestionIDs(_ context.Context, userID string, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var ids []string
	for _, answer := range s.byUser[userID] {
		if answer.AnsweredAt.Before(since) {
			continue
		}
		if _, ok := seen[answer.QuestionID]; ok {
			continue
		}
		seen[answer.QuestionID] = struct{}{}
		ids = append(ids, answer.QuestionID)
	}
	return ids, nil
}

func (s *AnswerStore) owner(sessionID string) string {
	if s.ownerFn == nil {
		return ""
	}
	return s.ownerFn(sessionID)
}

// BindSessionOwner wires the answer store to the session store so per-user
// queries work without duplicating the user id on every call.
func (s *AnswerStore) BindSessionOwner(sessions *SessionStore) {
	s.ownerFn = func(sessionID string) string {
		sessions.mu.RLock()
		defer sessions.mu.RUnlock()
		return sessions.sessions[sessionID].UserID
	}
}
