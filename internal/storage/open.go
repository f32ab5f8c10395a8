package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	logx "cartobot/pkg/logx"
)

// Store keeps the latest encoded state for each snapshot name.
type Store interface {
	PutSnapshot(ctx context.Context, name string, data []byte) error
	// GetSnapshot returns ErrNotFound when nothing was stored under name.
	GetSnapshot(ctx context.Context, name string) ([]byte, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// validName rejects names that would escape the snapshot directory.
func validName(name string) bool {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return false
	}
	return !strings.HasSuffix(name, tmpSuffix)
}
