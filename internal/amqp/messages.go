package amqp

import (
	"encoding/json"
	"time"
)

// Ledger record kinds.
const (
	LedgerKindExpense = "expense"
	LedgerKindPayment = "payment"
)

// LedgerSyncMessage asks the worker to export one record to the external
// ledger. It carries only the kind and id; the worker fetches the full
// record from the database.
type LedgerSyncMessage struct {
	Kind      string    `json:"kind"` // "expense" or "payment"
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerSyncMessage(kind, id string) *LedgerSyncMessage {
	return &LedgerSyncMessage{
		Kind:      kind,
		ID:        id,
		Timestamp: time.Now(),
	}
}

func (m *LedgerSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerSyncMessageFromJSON(data []byte) (*LedgerSyncMessage, error) {
	var msg LedgerSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
