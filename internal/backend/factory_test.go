package backend

import (
	"context"
	"path/filepath"
	"testing"

	"budgeteer/internal/config"
	"budgeteer/internal/events"
	"budgeteer/internal/store/memory"
	"budgeteer/internal/store/sqlite"
)

func TestCreateMemoryBackend(t *testing.T) {
	res, err := NewFactory(nil).Create(context.Background(), Config{Type: MemoryBackend})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer res.Cleanup()

	if _, ok := res.Store.(*memory.Store); !ok {
		t.Errorf("store = %T", res.Store)
	}
	if _, ok := res.Publisher.(events.Nop); !ok {
		t.Errorf("publisher = %T, want events.Nop", res.Publisher)
	}
	if res.Exporter != nil || res.Amqp != nil {
		t.Errorf("optional services should be disabled: %+v", res)
	}
}

func TestCreateSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budgeteer.db")
	res, err := NewFactory(nil).Create(context.Background(), Config{Type: SQLiteBackend, SQLiteDBPath: path})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := res.Store.(*sqlite.Repository); !ok {
		t.Errorf("store = %T", res.Store)
	}
	check, ok := res.Checks["store"]
	if !ok {
		t.Fatal("sqlite store should register a health check")
	}
	if err := check.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := res.Cleanup(); err != nil {
		t.Errorf("Cleanup: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"unknown type", Config{Type: "sheets"}, true},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"export without credentials", Config{Type: MemoryBackend, GoogleSpreadsheetID: "id"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
	cfg, err := FromAppConfig(&config.Config{DataBackend: "sqlite", SQLiteDBPath: "x.db", AMQPURL: "amqp://h/"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Type != SQLiteBackend || cfg.SQLiteDBPath != "x.db" || cfg.AMQPURL != "amqp://h/" {
		t.Errorf("FromAppConfig = %+v", cfg)
	}
}
