package backend

import (
	"context"

	"fintrack/internal/amqp"
	"fintrack/internal/ledger"
	"fintrack/internal/services"
)

// CleanupFunc releases what a backend holds open.
type CleanupFunc func() error

// BackendResult contains the store, the optional event client and a
// cleanup function that closes both.
type BackendResult struct {
	Store   ledger.Store
	Events  *amqp.Client
	Cleanup CleanupFunc
}

// Publisher returns the event client as a services.EventPublisher, or nil
// when no broker is configured.
func (r *BackendResult) Publisher() services.EventPublisher {
	if r.Events == nil {
		return nil
	}
	return r.Events
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Optional ledger event stream
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
