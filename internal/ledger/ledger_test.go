package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"prep-session-service/internal/domain"
	"prep-session-service/internal/infra/memory"
	"prep-session-service/internal/ledger"
)

func TestAvailableSkipsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := ledger.NewWithClock(memory.NewLedgerStore(), func() time.Time { return now })

	expired := now.Add(-time.Hour)
	if _, err := svc.Add(ctx, "u1", domain.TxPurchase, 5, "expired pack", "", &expired); err != nil {
		t.Fatalf("add: %v", err)
	}
	future := now.Add(24 * time.Hour)
	if _, err := svc.Add(ctx, "u1", domain.TxBonus, 3, "welcome bonus", "", &future); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := svc.Available(ctx, "u1")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if got != 3 {
		t.Fatalf("expected 3 active credits, got %d", got)
	}
}

func TestAvailableFlooredAtZero(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := ledger.NewWithClock(memory.NewLedgerStore(), func() time.Time { return now })

	// Grant credits that expire, then consume them while still valid: the
	// raw sum goes negative once the grant expires, but callers still see 0.
	expiring := now.Add(time.Minute)
	if _, err := svc.Add(ctx, "u1", domain.TxPurchase, 2, "short-lived pack", "", &expiring); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Consume(ctx, "u1", 2, "session-1", "interview"); err != nil {
		t.Fatalf("consume: %v", err)
	}

	now = now.Add(time.Hour)
	got, err := svc.Available(ctx, "u1")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected floor at 0, got %d", got)
	}
}

func TestConsumeInsufficient(t *testing.T) {
	ctx := context.Background()
	svc := ledger.New(memory.NewLedgerStore())

	_, err := svc.Consume(ctx, "u1", 1, "session-1", "interview")
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}

	entries, err := svc.History(ctx, "u1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("failed consume must not append, got %d entries", len(entries))
	}
}

func TestConsumeRecordsBalanceSnapshot(t *testing.T) {
	ctx := context.Background()
	svc := ledger.New(memory.NewLedgerStore())

	if _, err := svc.Add(ctx, "u1", domain.TxPurchase, 5, "pack of five", "order-9", nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	entry, err := svc.Consume(ctx, "u1", 2, "session-1", "interview start")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if entry.Credits != -2 || entry.BalanceAfter != 3 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Type != domain.TxConsumption || entry.SourceRef != "session-1" {
		t.Fatalf("unexpected entry metadata: %+v", entry)
	}
}

func TestConcurrentConsumeOnlyOneSucceeds(t *testing.T) {
	ctx := context.Background()
	svc := ledger.New(memory.NewLedgerStore())

	if _, err := svc.Add(ctx, "u1", domain.TxPurchase, 1, "single credit", "", nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Consume(ctx, "u1", 1, "session", "race")
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientCredits):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("expected exactly one winner, got success=%d insufficient=%d", succeeded, insufficient)
	}

	available, err := svc.Available(ctx, "u1")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available != 0 {
		t.Fatalf("expected balance 0 after race, got %d", available)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := ledger.NewWithClock(memory.NewLedgerStore(), func() time.Time {
		now = now.Add(time.Second)
		return now
	})

	if _, err := svc.Add(ctx, "u1", domain.TxPurchase, 5, "first", "", nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Add(ctx, "u1", domain.TxBonus, 1, "second", "", nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	entries, err := svc.History(ctx, "u1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 || entries[0].Description != "second" {
		t.Fatalf("expected newest first, got %+v", entries)
	}
}
