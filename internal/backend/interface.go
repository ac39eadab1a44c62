package backend

import (
	"context"

	"budgeteer/internal/events"
	"budgeteer/internal/export"
	"budgeteer/internal/store"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Result holds everything the factory wired. Publisher is never nil; Exporter
// is nil when ledger export is not configured.
type Result struct {
	Store     store.Store
	Publisher events.Publisher
	Exporter  export.Writer
	// Amqp is the broker client when AMQP is configured, for consumers.
	Amqp    AmqpClient
	Checks  map[string]Pinger
	Cleanup CleanupFunc
}

// AmqpClient is the broker surface used by the worker.
type AmqpClient interface {
	events.Publisher
	Consume(ctx context.Context, handler func(context.Context, events.Event) error) error
}

// Factory creates backends based on configuration
type Factory interface {
	Create(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Empty AMQPURL disables publishing.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Empty GoogleSpreadsheetID disables export.
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
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
