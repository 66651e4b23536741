package memory

import (
	"context"
	"sync"
	"time"

	"prep-session-service/internal/domain"
)

// LedgerStore is an in-memory implementation of ledger.Store. Entries are
// only ever appended; there is no update or delete path.
type LedgerStore struct {
	mu      sync.RWMutex
	entries map[string][]domain.LedgerEntry
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{entries: make(map[string][]domain.LedgerEntry)}
}

func (s *LedgerStore) Append(_ context.Context, entry domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.UserID] = append(s.entries[entry.UserID], entry)
	return nil
}

func (s *LedgerStore) EntriesByUser(_ context.Context, userID string) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entries[userID]
	out := make([]domain.LedgerEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *LedgerStore) SumActive(_ context.Context, userID string, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := 0
	for _, entry := range s.entries[userID] {
		if entry.Expired(now) {
			continue
		}
		sum += entry.Credits
	}
	return sum, nil
}
