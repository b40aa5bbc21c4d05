package factory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mikey/mail-triage/internal/adapters/store"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
)

// StoreFactory creates the store selected by store.type
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStore opens the configured store
func (f *StoreFactory) CreateStore() (core.Store, error) {
	sc := f.cfg.GetStore()

	switch sc.Type {
	case "memory":
		return store.NewMemoryStore(f.logger), nil
	case "sqlite":
		if !strings.HasPrefix(sc.SQLitePath, ":memory:") && !strings.HasPrefix(sc.SQLitePath, "file:") {
			if err := os.MkdirAll(filepath.Dir(sc.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
			}
		}
		return store.NewSQLiteStore(sc.SQLitePath, f.logger)
	case "mysql":
		return store.NewMySQLStore(sc.MySQLDSN, f.logger)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", sc.Type)
	}
}
