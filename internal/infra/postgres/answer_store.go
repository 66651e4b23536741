package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"prep-session-service/internal/domain"
)

type answerRow struct {
	bun.BaseModel `bun:"table:answers,alias:a"`

	SessionID         string    `bun:"session_id,pk"`
	QuestionID        string    `bun:"question_id,pk"`
	SelectedOptionIDs []string  `bun:"selected_option_ids,array"`
	GivenText         string    `bun:"given_text"`
	IsCorrect         *bool     `bun:"is_correct"`
	Score             float64   `bun:"score,notnull"`
	MatchPercent      *float64  `bun:"match_percent"`
	TimeSpentSec      int       `bun:"time_spent_sec,notnull"`
	AnsweredAt        time.Time `bun:"answered_at,notnull"`
}

func toAnswerRow(a domain.Answer) answerRow {
	return answerRow{
		SessionID:         a.SessionID,
		QuestionID:        a.QuestionID,
		SelectedOptionIDs: a.SelectedOptionIDs,
		GivenText:         a.GivenText,
		IsCorrect:         a.IsCorrect,
		Score:             a.Score,
		MatchPercent:      a.MatchPercent,
		TimeSpentSec:      a.TimeSpentSec,
		AnsweredAt:        a.AnsweredAt,
	}
}

func (r answerRow) toDomain() domain.Answer {
	return domain.Answer{
		SessionID:         r.SessionID,
		QuestionID:        r.QuestionID,
		SelectedOptionIDs: r.SelectedOptionIDs,
		GivenText:         r.GivenText,
		IsCorrect:         r.IsCorrect,
		Score:             r.Score,
		MatchPercent:      r.MatchPercent,
		TimeSpentSec:      r.TimeSpentSec,
		AnsweredAt:        r.AnsweredAt,
	}
}

// AnswerStore is the bun-backed implementation of app.AnswerStore. The
// upsert covers the practice overwrite path; interview re-submission is
// blocked by the engine before it ever reaches storage.
type AnswerStore struct {
	db *bun.DB
}

func NewAnswerStore(db *bun.DB) *AnswerStore {
	return &AnswerStore{db: db}
}

func (s *AnswerStore) Save(ctx context.Context, answer domain.Answer) error {
	row := toAnswerRow(answer)
	_, err := s.db.NewInsert().Model(&row).
		On("CONFLICT (session_id, question_id) DO UPDATE").
		Set("selected_option_ids = EXCLUDED.selected_option_ids").
		Set("given_text = EXCLUDED.given_text").
		Set("is_correct = EXCLUDED.is_correct").
		Set("score = EXCLUDED.score").
		Set("match_percent = EXCLUDED.match_percent").
		Set("time_spent_sec = EXCLUDED.time_spent_sec").
		Set("answered_at = EXCLUDED.answered_at").
		Exec(ctx)
	return err
}

func (s *AnswerStore) Get(ctx context.Context, sessionID, questionID string) (domain.Answer, bool, error) {
	var row answerRow
	err := s.db.NewSelect().Model(&row).
		Where("a.session_id = ?", sessionID).
		Where("a.question_id = ?", questionID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Answer{}, false, nil
	}
	if err != nil {
		return domain.Answer{}, false, err
	}
	return row.toDomain(), true, nil
}

func (s *AnswerStore) BySession(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	var rows []answerRow
	err := s.db.NewSelect().Model(&rows).
		Where("a.session_id = ?", sessionID).
		OrderExpr("a.answered_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	answers := make([]domain.Answer, len(rows))
	for i, row := range rows {
		answers[i] = row.toDomain()
	}
	return answers, nil
}

func (s *AnswerStore) RecentQuestionIDs(ctx context.Context, userID string, since time.Time) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().Model((*answerRow)(nil)).
		ColumnExpr("DISTINCT a.question_id").
		Join("JOIN sessions AS s ON s.id = a.session_id").
		Where("s.user_id = ?", userID).
		Where("a.answered_at >= ?", since).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
