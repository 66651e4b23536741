// Package ledger implements the append-only credit ledger that gates
// interview sessions. Balances are always derived from entries; nothing in
// the system stores a mutable balance.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"prep-session-service/internal/domain"
)

// Store is the persistence collaborator for ledger entries. Entries are
// append-only: the interface deliberately offers no update or delete.
type Store interface {
	Append(ctx context.Context, entry domain.LedgerEntry) error
	EntriesByUser(ctx context.Context, userID string) ([]domain.LedgerEntry, error)
	// SumActive is the per-user sum query over non-expired entries.
	SumActive(ctx context.Context, userID string, now time.Time) (int, error)
}

// Service computes balances and serializes per-user debits so two devices
// cannot both pass the balance check against a stale sum.
type Service struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store Store) *Service {
	return NewWithClock(store, time.Now)
}

// NewWithClock is test-only for deterministic expiry checks.
func NewWithClock(store Store, now func() time.Time) *Service {
	return &Service{
		store: store,
		now:   now,
		locks: make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing ledger writes for one user.
func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

// Available returns the user's spendable credits: the sum of non-expired
// entry deltas, floored at zero for display.
func (s *Service) Available(ctx context.Context, userID string) (int, error) {
	sum, err := s.store.SumActive(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	if sum < 0 {
		return 0, nil
	}
	return sum, nil
}

// History returns the user's entries newest-first.
func (s *Service) History(ctx context.Context, userID string) ([]domain.LedgerEntry, error) {
	entries, err := s.store.EntriesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	// Reverse append order first so entries sharing a timestamp still come
	// out newest-first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// Add appends a grant-style entry (purchase, bonus, refund). The entry's
// BalanceAfter snapshots availableCredits immediately before the append plus
// the new delta, and is never recomputed afterwards.
func (s *Service) Add(ctx context.Context, userID string, txType domain.TransactionType, credits int, description, sourceRef string, expiresAt *time.Time) (domain.LedgerEntry, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return s.appendLocked(ctx, userID, txType, credits, description, sourceRef, expiresAt)
}

// Consume debits credits for an interview session. The balance check and the
// append run under the user's lock, so concurrent consumes for the same user
// serialize and the derived balance never goes negative.
func (s *Service) Consume(ctx context.Context, userID string, credits int, interviewSessionID, description string) (domain.LedgerEntry, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	available, err := s.availableLocked(ctx, userID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if available < credits {
		return domain.LedgerEntry{}, domain.ErrInsufficientCredits
	}
	return s.appendLocked(ctx, userID, domain.TxConsumption, -credits, description, interviewSessionID, nil)
}

// Refund appends a positive correction entry referencing the session whose
// debit is being unwound.
func (s *Service) Refund(ctx context.Context, userID string, credits int, interviewSessionID, description string) (domain.LedgerEntry, error) {
	return s.Add(ctx, userID, domain.TxRefund, credits, description, interviewSessionID, nil)
}

func (s *Service) availableLocked(ctx context.Context, userID string) (int, error) {
	sum, err := s.store.SumActive(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	if sum < 0 {
		return 0, nil
	}
	return sum, nil
}

func (s *Service) appendLocked(ctx context.Context, userID string, txType domain.TransactionType, credits int, description, sourceRef string, expiresAt *time.Time) (domain.LedgerEntry, error) {
	available, err := s.availableLocked(ctx, userID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	entry := domain.LedgerEntry{
		ID:           uuid.New().String(),
		UserID:       userID,
		Type:         txType,
		Credits:      credits,
		BalanceAfter: available + credits,
		Description:  description,
		SourceRef:    sourceRef,
		ExpiresAt:    expiresAt,
		CreatedAt:    s.now(),
	}
	if err := s.store.Append(ctx, entry); err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}
