package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a committed ledger mutation.
type EventType string

const (
	EventTransactionCreated EventType = "transaction.created"
	EventTransactionUpdated EventType = "transaction.updated"
	EventTransactionDeleted EventType = "transaction.deleted"
	EventBalancesReconciled EventType = "balances.reconciled"
)

// LedgerEvent announces that the balances of AccountIDs changed. It carries
// ids only; consumers read current state from the store.
type LedgerEvent struct {
	Event         EventType `json:"event"`
	UserID        string    `json:"user_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	AccountIDs    []string  `json:"account_ids"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewLedgerEvent de-duplicates account ids, keeping their order.
func NewLedgerEvent(event EventType, userID, txID string, accountIDs ...string) *LedgerEvent {
	seen := make(map[string]bool, len(accountIDs))
	ids := make([]string, 0, len(accountIDs))
	for _, id := range accountIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return &LedgerEvent{
		Event:         event,
		UserID:        userID,
		TransactionID: txID,
		AccountIDs:    ids,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventFromJSON decodes and sanity-checks a message body.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Event == "" || msg.UserID == "" {
		return nil, fmt.Errorf("ledger event missing event or user_id")
	}
	return &msg, nil
}
