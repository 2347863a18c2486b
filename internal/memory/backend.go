package memory

import (
	"fmt"
	"path/filepath"

	"github.com/rcliao/crew-memory/internal/config"
	"github.com/rcliao/crew-memory/internal/store"
)

// OpenBackend opens the storage backend described by cfg.
func OpenBackend(cfg config.StorageConfig) (store.Backend, error) {
	switch cfg.Backend {
	case "", config.BackendFile:
		b, err := store.NewFileBackend(cfg.Root)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.Root, "memory.db")
		}
		b, err := store.NewSQLiteBackend(path)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// forRoot returns cfg rebound to a new storage root.
func forRoot(cfg config.StorageConfig, root string) config.StorageConfig {
	cfg.Root = root
	cfg.SQLitePath = filepath.Join(root, "memory.db")
	return cfg
}
