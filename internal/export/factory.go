package export

import (
	"fmt"
)

// LedgerBackend selects where exported entries go.
type LedgerBackend string

const (
	NoneBackend   LedgerBackend = "none"
	MemoryBackend LedgerBackend = "memory"
	SheetsBackend LedgerBackend = "sheets"
)

func (b LedgerBackend) String() string {
	return string(b)
}

func (b LedgerBackend) IsValid() bool {
	switch b {
	case NoneBackend, MemoryBackend, SheetsBackend:
		return true
	default:
		return false
	}
}

// ParseBackend validates a configured backend name. Empty means none.
func ParseBackend(s string) (LedgerBackend, error) {
	if s == "" {
		return NoneBackend, nil
	}
	b := LedgerBackend(s)
	if !b.IsValid() {
		return "", fmt.Errorf("invalid ledger backend: %s", s)
	}
	return b, nil
}
