package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// DefaultKeep bounds how many runs a store retains.
const DefaultKeep = 1000

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Keep        int           // retained runs; 0 means DefaultKeep
}

// RunRecord is one finished task execution.
// Keep it compact and schema-stable.
type RunRecord struct {
	TaskID   string        `json:"task_id"`
	Task     string        `json:"task"`
	Mode     string        `json:"mode"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

func (r RunRecord) OK() bool { return r.Error == "" }
