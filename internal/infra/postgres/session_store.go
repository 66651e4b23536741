package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"prep-session-service/internal/domain"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID           string     `bun:"id,pk"`
	UserID       string     `bun:"user_id,notnull"`
	AssignmentID string     `bun:"assignment_id"`
	TemplateID   string     `bun:"template_id"`
	Kind         string     `bun:"kind,notnull"`
	Status       string     `bun:"status,notnull"`
	StartedAt    time.Time  `bun:"started_at,notnull"`
	PausedAt     *time.Time `bun:"paused_at"`
	SubmittedAt  *time.Time `bun:"submitted_at"`
	FinishedAt   *time.Time `bun:"finished_at"`
	CurrentIndex int        `bun:"current_index,notnull"`
	QuestionIDs  []string   `bun:"question_ids,array"`
	TotalScore   float64    `bun:"total_score,notnull"`
	TotalTimeSec int        `bun:"total_time_sec,notnull"`
	PausedSec    int        `bun:"paused_sec,notnull"`
}

func toSessionRow(s domain.Session) sessionRow {
	return sessionRow{
		ID:           s.ID,
		UserID:       s.UserID,
		AssignmentID: s.AssignmentID,
		TemplateID:   s.TemplateID,
		Kind:         string(s.Kind),
		Status:       string(s.Status),
		StartedAt:    s.StartedAt,
		PausedAt:     s.PausedAt,
		SubmittedAt:  s.SubmittedAt,
		FinishedAt:   s.FinishedAt,
		CurrentIndex: s.CurrentIndex,
		QuestionIDs:  s.QuestionIDs,
		TotalScore:   s.TotalScore,
		TotalTimeSec: s.TotalTimeSec,
		PausedSec:    s.PausedSec,
	}
}

func (r sessionRow) toDomain() domain.Session {
	return domain.Session{
		ID:           r.ID,
		UserID:       r.UserID,
		AssignmentID: r.AssignmentID,
		TemplateID:   r.TemplateID,
		Kind:         domain.SessionKind(r.Kind),
		Status:       domain.SessionStatus(r.Status),
		StartedAt:    r.StartedAt,
		PausedAt:     r.PausedAt,
		SubmittedAt:  r.SubmittedAt,
		FinishedAt:   r.FinishedAt,
		CurrentIndex: r.CurrentIndex,
		QuestionIDs:  r.QuestionIDs,
		TotalScore:   r.TotalScore,
		TotalTimeSec: r.TotalTimeSec,
		PausedSec:    r.PausedSec,
	}
}

// SessionStore is the bun-backed implementation of app.SessionStore and the
// visibility resolver's attempt history.
type SessionStore struct {
	db *bun.DB
}

func NewSessionStore(db *bun.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Save(ctx context.Context, session domain.Session) error {
	row := toSessionRow(session)
	_, err := s.db.NewInsert().Model(&row).
		On("CONFLICT (id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("paused_at = EXCLUDED.paused_at").
		Set("submitted_at = EXCLUDED.submitted_at").
		Set("finished_at = EXCLUDED.finished_at").
		Set("current_index = EXCLUDED.current_index").
		Set("total_score = EXCLUDED.total_score").
		Set("total_time_sec = EXCLUDED.total_time_sec").
		Set("paused_sec = EXCLUDED.paused_sec").
		Exec(ctx)
	return err
}

func (s *SessionStore) Get(ctx context.Context, id string) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("s.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	return row.toDomain(), nil
}

func (s *SessionStore) FindActive(ctx context.Context, userID, assignmentID string) (domain.Session, bool, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).
		Where("s.user_id = ?", userID).
		Where("s.assignment_id = ?", assignmentID).
		Where("s.status IN (?)", bun.In([]string{string(domain.StatusInProgress), string(domain.StatusPaused)})).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	return row.toDomain(), true, nil
}

// CompletedCount implements visibility.AttemptHistory.
func (s *SessionStore) CompletedCount(ctx context.Context, userID, assignmentID string) (int, error) {
	return s.db.NewSelect().Model((*sessionRow)(nil)).
		Where("s.user_id = ?", userID).
		Where("s.assignment_id = ?", assignmentID).
		Where("s.status = ?", string(domain.StatusCompleted)).
		Count(ctx)
}

// LastCompletedAt implements visibility.AttemptHistory.
func (s *SessionStore) LastCompletedAt(ctx context.Context, userID, assignmentID string) (*time.Time, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).
		Column("finished_at").
		Where("s.user_id = ?", userID).
		Where("s.assignment_id = ?", assignmentID).
		Where("s.status = ?", string(domain.StatusCompleted)).
		Where("s.finished_at IS NOT NULL").
		OrderExpr("s.finished_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.FinishedAt, nil
}
