package storage

import (
	"context"
	"errors"
	"strings"

	logx "bgsched/pkg/logx"
)

// Store is the run history API.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// ListRuns returns up to limit runs, newest first. limit <= 0 means all retained.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
