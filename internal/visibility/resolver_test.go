package visibility

import (
	"context"
	"errors"
	"testing"
	"time"

	"prep-session-service/internal/domain"
)

type fakeGroups struct {
	members map[string][]string
}

func (f *fakeGroups) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	for _, id := range f.members[groupID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type fakeHistory struct {
	completed int
	last      *time.Time
}

func (f *fakeHistory) CompletedCount(context.Context, string, string) (int, error) {
	return f.completed, nil
}

func (f *fakeHistory) LastCompletedAt(context.Context, string, string) (*time.Time, error) {
	return f.last, nil
}

func newResolver(groups *fakeGroups, history *fakeHistory, now time.Time) *Resolver {
	if groups == nil {
		groups = &fakeGroups{}
	}
	if history == nil {
		history = &fakeHistory{}
	}
	return NewWithClock(groups, history, func() time.Time { return now })
}

func reasonOf(t *testing.T, err error) domain.EligibilityReason {
	t.Helper()
	var notEligible *domain.NotEligibleError
	if !errors.As(err, &notEligible) {
		t.Fatalf("expected NotEligibleError, got %v", err)
	}
	return notEligible.Reason
}

func TestPublicAssignmentEligible(t *testing.T) {
	r := newResolver(nil, nil, time.Now())
	assignment := domain.Assignment{ID: "a1", Visibility: domain.VisibilityPublic}
	if err := r.Check(context.Background(), "u1", assignment); err != nil {
		t.Fatalf("expected eligible, got %v", err)
	}
}

func TestGroupMembershipRequired(t *testing.T) {
	groups := &fakeGroups{members: map[string][]string{"g1": {"u2"}}}
	r := newResolver(groups, nil, time.Now())
	assignment := domain.Assignment{ID: "a1", Visibility: domain.VisibilityGroup, GroupID: "g1"}

	if err := r.Check(context.Background(), "u2", assignment); err != nil {
		t.Fatalf("member should be eligible, got %v", err)
	}
	err := r.Check(context.Background(), "u1", assignment)
	if got := reasonOf(t, err); got != domain.ReasonNotInGroup {
		t.Fatalf("expected not_in_group, got %s", got)
	}
}

func TestPrivateAssignmentOnlyForAssignee(t *testing.T) {
	r := newResolver(nil, nil, time.Now())
	assignment := domain.Assignment{ID: "a1", Visibility: domain.VisibilityPrivate, UserID: "u2"}

	err := r.Check(context.Background(), "u1", assignment)
	if !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("expected not eligible, got %v", err)
	}
	if got := reasonOf(t, err); got != domain.ReasonNotAssignee {
		t.Fatalf("expected not_assignee, got %s", got)
	}
	if err := r.Check(context.Background(), "u2", assignment); err != nil {
		t.Fatalf("assignee should be eligible, got %v", err)
	}
}

func TestTimeWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(time.Hour)
	end := now.Add(2 * time.Hour)
	r := newResolver(nil, nil, now)

	assignment := domain.Assignment{ID: "a1", Visibility: domain.VisibilityPublic, WindowStart: &start, WindowEnd: &end}
	if got := reasonOf(t, r.Check(context.Background(), "u1", assignment)); got != domain.ReasonBeforeWindow {
		t.Fatalf("expected before_window, got %s", got)
	}

	r = newResolver(nil, nil, end) // window end is exclusive
	if got := reasonOf(t, r.Check(context.Background(), "u1", assignment)); got != domain.ReasonAfterWindow {
		t.Fatalf("expected after_window, got %s", got)
	}

	r = newResolver(nil, nil, start)
	if err := r.Check(context.Background(), "u1", assignment); err != nil {
		t.Fatalf("window start is inclusive, got %v", err)
	}
}

func TestMaxAttempts(t *testing.T) {
	r := newResolver(nil, &fakeHistory{completed: 2}, time.Now())
	assignment := domain.Assignment{ID: "a1", Visibility: domain.VisibilityPublic, MaxAttempts: 2}

	if got := reasonOf(t, r.Check(context.Background(), "u1", assignment)); got != domain.ReasonMaxAttempts {
		t.Fatalf("expected max_attempts_reached, got %s", got)
	}
}

func TestCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lastFinish := now.Add(-30 * time.Minute)
	r := newResolver(nil, &fakeHistory{completed: 1, last: &lastFinish}, now)
	assignment := domain.Assignment{ID: "a1", Visibility: domain.VisibilityPublic, CooldownHours: 1}

	if got := reasonOf(t, r.Check(context.Background(), "u1", assignment)); got != domain.ReasonCooldown {
		t.Fatalf("expected cooldown_active, got %s", got)
	}

	older := now.Add(-2 * time.Hour)
	r = newResolver(nil, &fakeHistory{completed: 1, last: &older}, now)
	if err := r.Check(context.Background(), "u1", assignment); err != nil {
		t.Fatalf("cooldown elapsed, expected eligible, got %v", err)
	}
}

func TestChecksRunInOrder(t *testing.T) {
	// A private assignment for someone else inside a closed window must
	// report the scope failure, not the window.
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(time.Hour)
	r := newResolver(nil, &fakeHistory{completed: 99}, now)
	assignment := domain.Assignment{
		ID:          "a1",
		Visibility:  domain.VisibilityPrivate,
		UserID:      "u2",
		WindowStart: &start,
		MaxAttempts: 1,
	}
	if got := reasonOf(t, r.Check(context.Background(), "u1", assignment)); got != domain.ReasonNotAssignee {
		t.Fatalf("expected scope failure first, got %s", got)
	}
}

func TestInvalidScopeRejected(t *testing.T) {
	r := newResolver(nil, nil, time.Now())
	assignment := domain.Assignment{ID: "a1", Visibility: domain.VisibilityGroup}
	if err := r.Check(context.Background(), "u1", assignment); !errors.Is(err, domain.ErrInvalidAssignment) {
		t.Fatalf("expected invalid assignment, got %v", err)
	}
}
