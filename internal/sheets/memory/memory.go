// Package memory is the in-process ledger used by tests and local runs
// without Google credentials.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ports "buildledger/internal/sheets"
)

type Store struct {
	mu      sync.Mutex
	entries []ports.LedgerEntry
}

var _ ports.LedgerWriter = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// Append stores the entry and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, entry ports.LedgerEntry) (string, error) {
	if entry.AllocationID == 0 {
		return "", errors.New("missing allocation id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return fmt.Sprintf("mem:%d", len(s.entries)), nil
}

// Entries returns a copy of everything appended so far.
func (s *Store) Entries() []ports.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.LedgerEntry(nil), s.entries...)
}
