package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"prep-session-service/internal/domain"
)

type assignmentRow struct {
	bun.BaseModel `bun:"table:assignments,alias:asg"`

	ID            string     `bun:"id,pk"`
	TemplateID    string     `bun:"template_id,notnull"`
	Visibility    string     `bun:"visibility,notnull"`
	GroupID       string     `bun:"group_id"`
	UserID        string     `bun:"user_id"`
	WindowStart   *time.Time `bun:"window_start"`
	WindowEnd     *time.Time `bun:"window_end"`
	MaxAttempts   int        `bun:"max_attempts,notnull"`
	CooldownHours int        `bun:"cooldown_hours,notnull"`
}

type templateRow struct {
	bun.BaseModel `bun:"table:templates,alias:t"`

	ID                   string                   `bun:"id,pk"`
	Name                 string                   `bun:"name,notnull"`
	Criteria             domain.SelectionCriteria `bun:"criteria,type:jsonb"`
	TotalSec             int                      `bun:"total_sec,notnull"`
	PerQuestionSec       int                      `bun:"per_question_sec,notnull"`
	Navigation           string                   `bun:"navigation,notnull"`
	AllowPause           bool                     `bun:"allow_pause,notnull"`
	AllowOverwrite       bool                     `bun:"allow_overwrite,notnull"`
	WrittenThreshold     float64                  `bun:"written_threshold,notnull"`
	CertificationEnabled bool                     `bun:"certification_enabled,notnull"`
	InterviewCost        int                      `bun:"interview_cost,notnull"`
}

type groupMemberRow struct {
	bun.BaseModel `bun:"table:group_members,alias:gm"`

	GroupID string `bun:"group_id,pk"`
	UserID  string `bun:"user_id,pk"`
}

// AssignmentStore is the read-only bun-backed implementation of
// app.AssignmentStore and visibility.GroupMembership. The admin service
// owns writes to these tables.
type AssignmentStore struct {
	db *bun.DB
}

func NewAssignmentStore(db *bun.DB) *AssignmentStore {
	return &AssignmentStore{db: db}
}

func (s *AssignmentStore) Assignment(ctx context.Context, id string) (domain.Assignment, error) {
	var row assignmentRow
	err := s.db.NewSelect().Model(&row).Where("asg.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Assignment{}, domain.ErrAssignmentNotFound
	}
	if err != nil {
		return domain.Assignment{}, err
	}
	return domain.Assignment{
		ID:            row.ID,
		TemplateID:    row.TemplateID,
		Visibility:    domain.Visibility(row.Visibility),
		GroupID:       row.GroupID,
		UserID:        row.UserID,
		WindowStart:   row.WindowStart,
		WindowEnd:     row.WindowEnd,
		MaxAttempts:   row.MaxAttempts,
		CooldownHours: row.CooldownHours,
	}, nil
}

func (s *AssignmentStore) Template(ctx context.Context, id string) (domain.Template, error) {
	var row templateRow
	err := s.db.NewSelect().Model(&row).Where("t.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Template{}, domain.ErrTemplateNotFound
	}
	if err != nil {
		return domain.Template{}, err
	}
	return domain.Template{
		ID:                   row.ID,
		Name:                 row.Name,
		Criteria:             row.Criteria,
		TotalSec:             row.TotalSec,
		PerQuestionSec:       row.PerQuestionSec,
		Navigation:           domain.NavigationMode(row.Navigation),
		AllowPause:           row.AllowPause,
		AllowOverwrite:       row.AllowOverwrite,
		WrittenThreshold:     row.WrittenThreshold,
		CertificationEnabled: row.CertificationEnabled,
		InterviewCost:        row.InterviewCost,
	}, nil
}

// IsMember implements visibility.GroupMembership.
func (s *AssignmentStore) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	return s.db.NewSelect().Model((*groupMemberRow)(nil)).
		Where("gm.group_id = ?", groupID).
		Where("gm.user_id = ?", userID).
		Exists(ctx)
}
