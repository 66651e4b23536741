package memory

import (
	"context"
	"testing"
	"time"

	"prep-session-service/internal/domain"
)

func TestSessionStoreFindActive(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	active := domain.Session{ID: "s1", UserID: "u1", AssignmentID: "a1", Status: domain.StatusInProgress}
	if err := store.Save(ctx, active); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := store.FindActive(ctx, "u1", "a1")
	if err != nil || !ok || got.ID != "s1" {
		t.Fatalf("expected active session, got ok=%v err=%v", ok, err)
	}

	active.Status = domain.StatusCompleted
	if err := store.Save(ctx, active); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, _ := store.FindActive(ctx, "u1", "a1"); ok {
		t.Fatalf("completed session must not count as active")
	}

	if _, err := store.Get(ctx, "nope"); err != domain.ErrSessionNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSessionStoreAttemptHistory(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(2 * time.Hour)
	for i, finished := range []time.Time{first, second} {
		f := finished
		session := domain.Session{
			ID: "s" + string(rune('1'+i)), UserID: "u1", AssignmentID: "a1",
			Status: domain.StatusCompleted, FinishedAt: &f,
		}
		if err := store.Save(ctx, session); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	count, err := store.CompletedCount(ctx, "u1", "a1")
	if err != nil || count != 2 {
		t.Fatalf("expected 2 completed, got %d err=%v", count, err)
	}
	last, err := store.LastCompletedAt(ctx, "u1", "a1")
	if err != nil || last == nil || !last.Equal(second) {
		t.Fatalf("expected latest finish %v, got %v err=%v", second, last, err)
	}
}

func TestAnswerStoreRecentQuestionIDs(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessionStore()
	answers := NewAnswerStore()
	answers.BindSessionOwner(sessions)

	if err := sessions.Save(ctx, domain.Session{ID: "s1", UserID: "u1"}); err != nil {
		t.Fatalf("save session: %v", err)
	}

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := answers.Save(ctx, domain.Answer{SessionID: "s1", QuestionID: "q-old", AnsweredAt: old}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := answers.Save(ctx, domain.Answer{SessionID: "s1", QuestionID: "q-new", AnsweredAt: recent}); err != nil {
		t.Fatalf("save: %v", err)
	}

	ids, err := answers.RecentQuestionIDs(ctx, "u1", recent.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(ids) != 1 || ids[0] != "q-new" {
		t.Fatalf("expected only q-new, got %v", ids)
	}
}
