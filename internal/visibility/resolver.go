// Package visibility decides whether a user may see or start an assignment.
package visibility

import (
	"context"
	"time"

	"prep-session-service/internal/domain"
)

// GroupMembership answers group-scope checks; implemented by the group store.
type GroupMembership interface {
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

// AttemptHistory exposes the user's completed sessions for an assignment,
// used for the attempt-cap and cooldown checks.
type AttemptHistory interface {
	CompletedCount(ctx context.Context, userID, assignmentID string) (int, error)
	// LastCompletedAt returns nil when the user has no completed session.
	LastCompletedAt(ctx context.Context, userID, assignmentID string) (*time.Time, error)
}

// Resolver evaluates the eligibility checks in a fixed order — scope, time
// window, attempt cap, cooldown — and reports the first failure, so the UI
// message for a given state never flaps between reasons.
type Resolver struct {
	groups  GroupMembership
	history AttemptHistory
	now     func() time.Time
}

func New(groups GroupMembership, history AttemptHistory) *Resolver {
	return NewWithClock(groups, history, time.Now)
}

// NewWithClock is test-only for deterministic window and cooldown checks.
func NewWithClock(groups GroupMembership, history AttemptHistory, now func() time.Time) *Resolver {
	return &Resolver{groups: groups, history: history, now: now}
}

// Check returns nil when the user may start the assignment, or a
// *domain.NotEligibleError naming the first failing check. Storage failures
// pass through unwrapped.
func (r *Resolver) Check(ctx context.Context, userID string, assignment domain.Assignment) error {
	if err := assignment.Validate(); err != nil {
		return err
	}

	switch assignment.Visibility {
	case domain.VisibilityGroup:
		member, err := r.groups.IsMember(ctx, assignment.GroupID, userID)
		if err != nil {
			return err
		}
		if !member {
			return &domain.NotEligibleError{Reason: domain.ReasonNotInGroup}
		}
	case domain.VisibilityPrivate:
		if assignment.UserID != userID {
			return &domain.NotEligibleError{Reason: domain.ReasonNotAssignee}
		}
	}

	now := r.now()
	if assignment.WindowStart != nil && now.Before(*assignment.WindowStart) {
		return &domain.NotEligibleError{Reason: domain.ReasonBeforeWindow}
	}
	if assignment.WindowEnd != nil && !now.Before(*assignment.WindowEnd) {
		return &domain.NotEligibleError{Reason: domain.ReasonAfterWindow}
	}

	if assignment.MaxAttempts > 0 {
		count, err := r.history.CompletedCount(ctx, userID, assignment.ID)
		if err != nil {
			return err
		}
		if count >= assignment.MaxAttempts {
			return &domain.NotEligibleError{Reason: domain.ReasonMaxAttempts}
		}
	}

	if assignment.CooldownHours > 0 {
		last, err := r.history.LastCompletedAt(ctx, userID, assignment.ID)
		if err != nil {
			return err
		}
		if last != nil && now.Sub(*last) < time.Duration(assignment.CooldownHours)*time.Hour {
			return &domain.NotEligibleError{Reason: domain.ReasonCooldown}
		}
	}

	return nil
}
