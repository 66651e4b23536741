package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id resolves to nothing.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAssignmentNotFound indicates the assignment could not be loaded.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrTemplateNotFound indicates the template could not be loaded.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrQuestionNotFound indicates a submitted question id is not part of the session.
	ErrQuestionNotFound = errors.New("question not part of session")
	// ErrInvalidCriteria indicates selection criteria violating its invariants.
	ErrInvalidCriteria = errors.New("invalid selection criteria")
	// ErrInvalidAssignment indicates an assignment missing its scope target.
	ErrInvalidAssignment = errors.New("invalid assignment scope")

	// ErrNotEligible is the base error for every visibility refusal; match
	// with errors.Is and inspect NotEligibleError for the concrete reason.
	ErrNotEligible = errors.New("not eligible for assignment")
	// ErrInsufficientCredits is returned when a debit would overdraw the ledger.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrInsufficientQuestionPool is returned when no bucket yields a single question.
	ErrInsufficientQuestionPool = errors.New("insufficient question pool")
	// ErrInvalidStateTransition is a caller ordering error (e.g. answering a
	// completed session). Never silently ignored.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrAnswerAlreadyRecorded rejects re-submission when overwrite is disabled.
	ErrAnswerAlreadyRecorded = errors.New("answer already recorded")
	// ErrSessionExpired is returned when lazy expiry fires during a call; the
	// caller receives the finalized session alongside it.
	ErrSessionExpired = errors.New("session expired")
)

// EligibilityReason names the first failing visibility check.
type EligibilityReason string

const (
	ReasonNotInGroup   EligibilityReason = "not_in_group"
	ReasonNotAssignee  EligibilityReason = "not_assignee"
	ReasonBeforeWindow EligibilityReason = "before_window"
	ReasonAfterWindow  EligibilityReason = "after_window"
	ReasonMaxAttempts  EligibilityReason = "max_attempts_reached"
	ReasonCooldown     EligibilityReason = "cooldown_active"
)

// NotEligibleError carries the deterministic first-failure reason so the UI
// can render a precise message.
type NotEligibleError struct {
	Reason EligibilityReason
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("not eligible for assignment: %s", e.Reason)
}

// Is lets errors.Is(err, ErrNotEligible) match regardless of reason.
func (e *NotEligibleError) Is(target error) bool {
	return target == ErrNotEligible
}

// PoolShortfallError reports how many questions each bucket is missing so an
// admin can fix the template.
type PoolShortfallError struct {
	MissingSingle  int
	MissingMulti   int
	MissingWritten int
}

func (e *PoolShortfallError) Error() string {
	return fmt.Sprintf("insufficient question pool: missing single=%d multi=%d written=%d",
		e.MissingSingle, e.MissingMulti, e.MissingWritten)
}

// Is lets errors.Is(err, ErrInsufficientQuestionPool) match the typed shortfall.
func (e *PoolShortfallError) Is(target error) bool {
	return target == ErrInsufficientQuestionPool
}
