// Package memory is an in-process ledger for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"conti/internal/export"
)

type Ledger struct {
	mu      sync.Mutex
	entries []export.Entry
}

func New() *Ledger {
	return &Ledger{}
}

// AppendEntry stores the entry and returns a synthetic row reference.
func (l *Ledger) AppendEntry(_ context.Context, entry export.Entry) (string, error) {
	if err := entry.Amount.Validate(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return fmt.Sprintf("mem:%d", len(l.entries)), nil
}

// Entries returns a copy of everything appended so far.
func (l *Ledger) Entries() []export.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]export.Entry(nil), l.entries...)
}
