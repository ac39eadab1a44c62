package backend

import (
	"context"
	"errors"
	"fmt"

	"budgeteer/internal/amqp"
	"budgeteer/internal/events"
	"budgeteer/internal/export/sheets"
	"budgeteer/internal/log"
	"budgeteer/internal/store"
	"budgeteer/internal/store/memory"
	"budgeteer/internal/store/sqlite"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// Create builds the store, then the optional publisher and exporter. On
// error everything already opened is closed again.
func (f *DefaultFactory) Create(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	res := &Result{Publisher: events.Nop{}, Checks: map[string]Pinger{}}
	var closers []func() error
	res.Cleanup = func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	st, closeStore, err := f.createStore(config)
	if err != nil {
		return nil, err
	}
	res.Store = st
	if closeStore != nil {
		closers = append(closers, closeStore)
	}
	if p, ok := st.(Pinger); ok {
		res.Checks["store"] = p
	}

	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without events", log.FieldError, err.Error())
		} else {
			res.Publisher = client
			res.Amqp = client
			closers = append(closers, client.Close)
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	if config.GoogleSpreadsheetID != "" {
		w, err := sheets.New(ctx, sheets.Config{
			SpreadsheetID:   config.GoogleSpreadsheetID,
			CredentialsJSON: config.GoogleServiceAccountJSON,
			CredentialsFile: config.GoogleServiceAccountFile,
		}, f.logger)
		if err != nil {
			_ = res.Cleanup()
			return nil, fmt.Errorf("failed to initialize ledger export: %w", err)
		}
		res.Exporter = w
		f.logger.Info("Initialized Google Sheets ledger export", "spreadsheet_id", config.GoogleSpreadsheetID)
	}

	return res, nil
}

func (f *DefaultFactory) createStore(config Config) (store.Store, func() error, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := sqlite.NewRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return repo, repo.Close, nil
	case MemoryBackend:
		f.logger.Info("Initialized memory backend")
		return memory.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
