package postgres

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"prep-session-service/internal/domain"
)

type ledgerRow struct {
	bun.BaseModel `bun:"table:ledger_entries,alias:l"`

	ID           string     `bun:"id,pk"`
	UserID       string     `bun:"user_id,notnull"`
	Type         string     `bun:"tx_type,notnull"`
	Credits      int        `bun:"credits,notnull"`
	BalanceAfter int        `bun:"balance_after,notnull"`
	Description  string     `bun:"description"`
	SourceRef    string     `bun:"source_ref"`
	ExpiresAt    *time.Time `bun:"expires_at"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
}

// LedgerStore is the bun-backed implementation of ledger.Store. The table is
// insert-only; no update or delete statement exists in this package.
type LedgerStore struct {
	db *bun.DB
}

func NewLedgerStore(db *bun.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) Append(ctx context.Context, entry domain.LedgerEntry) error {
	row := ledgerRow{
		ID:           entry.ID,
		UserID:       entry.UserID,
		Type:         string(entry.Type),
		Credits:      entry.Credits,
		BalanceAfter: entry.BalanceAfter,
		Description:  entry.Description,
		SourceRef:    entry.SourceRef,
		ExpiresAt:    entry.ExpiresAt,
		CreatedAt:    entry.CreatedAt,
	}
	_, err := s.db.NewInsert().Model(&row).Exec(ctx)
	return err
}

func (s *LedgerStore) EntriesByUser(ctx context.Context, userID string) ([]domain.LedgerEntry, error) {
	var rows []ledgerRow
	err := s.db.NewSelect().Model(&rows).
		Where("l.user_id = ?", userID).
		OrderExpr("l.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.LedgerEntry, len(rows))
	for i, row := range rows {
		entries[i] = domain.LedgerEntry{
			ID:           row.ID,
			UserID:       row.UserID,
			Type:         domain.TransactionType(row.Type),
			Credits:      row.Credits,
			BalanceAfter: row.BalanceAfter,
			Description:  row.Description,
			SourceRef:    row.SourceRef,
			ExpiresAt:    row.ExpiresAt,
			CreatedAt:    row.CreatedAt,
		}
	}
	return entries, nil
}

func (s *LedgerStore) SumActive(ctx context.Context, userID string, now time.Time) (int, error) {
	var sum int
	err := s.db.NewSelect().Model((*ledgerRow)(nil)).
		ColumnExpr("COALESCE(SUM(l.credits), 0)").
		Where("l.user_id = ?", userID).
		Where("l.expires_at IS NULL OR l.expires_at > ?", now).
		Scan(ctx, &sum)
	if err != nil {
		return 0, err
	}
	return sum, nil
}
