package domain

import "time"

// QuestionType discriminates how a question is answered and scored.
type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionMultiChoice  QuestionType = "multi_choice"
	QuestionWritten      QuestionType = "written"
)

// QuestionLevel is the difficulty band a question belongs to.
type QuestionLevel string

const (
	LevelBasic        QuestionLevel = "basic"
	LevelIntermediate QuestionLevel = "intermediate"
	LevelAdvanced     QuestionLevel = "advanced"
)

// Option represents a possible answer for a choice question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is question-bank content. Immutable while a session runs;
// owned by the question-bank collaborator, never mutated here.
type Question struct {
	ID             string        `json:"id"`
	TopicID        string        `json:"topicId"`
	Type           QuestionType  `json:"type"`
	Level          QuestionLevel `json:"level"`
	Prompt         string        `json:"prompt"`
	OfficialAnswer string        `json:"officialAnswer,omitempty"`
	Options        []Option      `json:"options,omitempty"`
}

// CorrectOptionIDs returns the ids of all options flagged correct.
func (q Question) CorrectOptionIDs() []string {
	var ids []string
	for _, opt := range q.Options {
		if opt.Correct {
			ids = append(ids, opt.ID)
		}
	}
	return ids
}

// SelectionCriteria describes how many questions of each type to draw and
// from which topics and levels. Embedded in a Template as a structured value,
// parsed once at the collaborator boundary.
type SelectionCriteria struct {
	TopicIDs     []string        `json:"topicIds"`
	Levels       []QuestionLevel `json:"levels"`
	CountSingle  int             `json:"countSingle"`
	CountMulti   int             `json:"countMulti"`
	CountWritten int             `json:"countWritten"`
}

// Total is the number of questions the criteria asks for.
func (c SelectionCriteria) Total() int {
	return c.CountSingle + c.CountMulti + c.CountWritten
}

// Validate enforces the criteria invariants: counts non-negative, and a
// non-empty topic set whenever any count is positive.
func (c SelectionCriteria) Validate() error {
	if c.CountSingle < 0 || c.CountMulti < 0 || c.CountWritten < 0 {
		return ErrInvalidCriteria
	}
	if c.Total() > 0 && len(c.TopicIDs) == 0 {
		return ErrInvalidCriteria
	}
	return nil
}

// NavigationMode controls which question a submission may target.
type NavigationMode string

const (
	// NavigationLinear accepts answers only for the current question.
	NavigationLinear NavigationMode = "linear"
	// NavigationFree accepts answers for any not-yet-answered question.
	NavigationFree NavigationMode = "free"
)

// Template is admin-authored configuration for a family of sessions:
// selection criteria plus timer, navigation, feedback, certification and
// credit settings.
type Template struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Criteria SelectionCriteria `json:"criteria"`

	TotalSec       int            `json:"totalSec,omitempty"`       // 0 = no overall time budget
	PerQuestionSec int            `json:"perQuestionSec,omitempty"` // 0 = no per-question budget
	Navigation     NavigationMode `json:"navigation"`
	AllowPause     bool           `json:"allowPause"`

	// AllowOverwrite permits re-submitting an already answered question
	// (practice immediate-feedback mode). Interviews leave this false so a
	// recorded answer cannot be tampered with.
	AllowOverwrite bool `json:"allowOverwrite"`

	// WrittenThreshold is the match percentage at or above which a written
	// answer counts as correct. Zero means the engine default of 80.
	WrittenThreshold float64 `json:"writtenThreshold,omitempty"`

	CertificationEnabled bool `json:"certificationEnabled"`

	// InterviewCost is the number of credits debited when an interview
	// session starts. The debit is non-refundable: abandoning or expiring
	// the session does not append a Refund entry.
	InterviewCost int `json:"interviewCost"`
}

// Visibility scopes who may see and start an assignment.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityGroup   Visibility = "group"
	VisibilityPrivate Visibility = "private"
)

// Assignment offers a template to the public, a group, or a single user,
// optionally bounded by a time window, attempt cap and cooldown.
type Assignment struct {
	ID         string     `json:"id"`
	TemplateID string     `json:"templateId"`
	Visibility Visibility `json:"visibility"`
	GroupID    string     `json:"groupId,omitempty"`
	UserID     string     `json:"userId,omitempty"`

	WindowStart *time.Time `json:"windowStart,omitempty"`
	WindowEnd   *time.Time `json:"windowEnd,omitempty"`

	MaxAttempts   int `json:"maxAttempts,omitempty"`   // 0 = unlimited
	CooldownHours int `json:"cooldownHours,omitempty"` // 0 = none
}

// Validate enforces the scope invariants: group visibility requires a group
// id, private visibility requires a user id.
func (a Assignment) Validate() error {
	switch a.Visibility {
	case VisibilityGroup:
		if a.GroupID == "" {
			return ErrInvalidAssignment
		}
	case VisibilityPrivate:
		if a.UserID == "" {
			return ErrInvalidAssignment
		}
	}
	return nil
}

// SessionKind distinguishes free practice from credit-gated interviews.
type SessionKind string

const (
	KindPractice  SessionKind = "practice"
	KindInterview SessionKind = "interview"
)

// SessionStatus enumerates the session lifecycle states.
type SessionStatus string

const (
	StatusNotStarted SessionStatus = "not_started"
	StatusInProgress SessionStatus = "in_progress"
	StatusPaused     SessionStatus = "paused"
	StatusCompleted  SessionStatus = "completed"
	StatusExpired    SessionStatus = "expired"
	StatusAbandoned  SessionStatus = "abandoned"
)

// Terminal reports whether no further transitions are legal from s.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusAbandoned
}

// Session is one user's run through a generated question set. Owned
// exclusively by its user and mutated only through the session engine.
type Session struct {
	ID           string        `json:"id"`
	UserID       string        `json:"userId"`
	AssignmentID string        `json:"assignmentId,omitempty"` // empty for ad-hoc practice
	TemplateID   string        `json:"templateId,omitempty"`
	Kind         SessionKind   `json:"kind"`
	Status       SessionStatus `json:"status"`

	StartedAt   time.Time  `json:"startedAt"`
	PausedAt    *time.Time `json:"pausedAt,omitempty"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`

	CurrentIndex int      `json:"currentIndex"`
	QuestionIDs  []string `json:"questionIds"`

	TotalScore   float64 `json:"totalScore"`
	TotalTimeSec int     `json:"totalTimeSec"`

	// PausedSec accumulates time spent paused so the remaining budget of a
	// timed session survives pause/resume cycles.
	PausedSec int `json:"pausedSec,omitempty"`
}

// Answer records one evaluated submission for one question of a session.
// Created once per question; overwritten only when the template allows it.
type Answer struct {
	SessionID         string    `json:"sessionId"`
	QuestionID        string    `json:"questionId"`
	SelectedOptionIDs []string  `json:"selectedOptionIds,omitempty"`
	GivenText         string    `json:"givenText,omitempty"`
	IsCorrect         *bool     `json:"isCorrect,omitempty"`
	Score             float64   `json:"score"`
	MatchPercent      *float64  `json:"matchPercent,omitempty"` // written answers only
	TimeSpentSec      int       `json:"timeSpentSec"`
	AnsweredAt        time.Time `json:"answeredAt"`
}

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxPurchase    TransactionType = "purchase"
	TxConsumption TransactionType = "consumption"
	TxRefund      TransactionType = "refund"
	TxBonus       TransactionType = "bonus"
)

// LedgerEntry is one immutable credit transaction. Entries are append-only:
// corrections and expirations are new entries, never edits.
type LedgerEntry struct {
	ID     string          `json:"id"`
	UserID string          `json:"userId"`
	Type   TransactionType `json:"type"`

	// Credits is the signed delta; negative for consumption.
	Credits int `json:"credits"`

	// BalanceAfter snapshots the derived balance at append time, kept for
	// audit even though the live balance is always recomputed from entries.
	BalanceAfter int `json:"balanceAfter"`

	Description string     `json:"description,omitempty"`
	SourceRef   string     `json:"sourceRef,omitempty"` // top-up reference or interview session id
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Expired reports whether the entry no longer counts toward the balance.
func (e LedgerEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// CertificateSignal is the one-way payload handed to the certificate issuer
// when a certification-enabled interview completes.
type CertificateSignal struct {
	SessionID  string  `json:"sessionId"`
	UserID     string  `json:"userId"`
	TotalScore float64 `json:"totalScore"`
}
