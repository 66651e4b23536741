package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"prep-session-service/internal/domain"
)

// QuestionLoader loads a topic's question pool from Postgres JSONB.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadTopic(ctx context.Context, topicID string) ([]domain.Question, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM question_topics WHERE topic_id=$1`, topicID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("load topic: %w", err)
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal topic questions: %w", err)
	}
	return questions, nil
}
