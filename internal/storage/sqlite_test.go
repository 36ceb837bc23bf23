//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "bgsched/pkg/logx"
)

func openTestSQLite(t *testing.T) *sqliteStore {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "runs.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st.(*sqliteStore)
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 6, 7, 8, 9, 10, time.UTC)

	if err := st.AppendRun(ctx, RunRecord{TaskID: "1", Task: "a", Mode: "immediate", Started: started, Duration: time.Second}); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	if err := st.AppendRun(ctx, RunRecord{TaskID: "2", Task: "b", Started: started, Error: "boom"}); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	runs, err := st.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].Task != "b" || runs[0].OK() || runs[1].Task != "a" {
		t.Fatalf("runs = %+v, want b (failed) then a", runs)
	}
	if !runs[1].Started.Equal(started) || runs[1].Duration != time.Second {
		t.Fatalf("run a = %+v, want started %v took 1s", runs[1], started)
	}
}

func TestSQLiteListRunsRejectsBadTimestamp(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()
	if _, err := st.db.ExecContext(ctx,
		`INSERT INTO runs (task_id, task, mode, started) VALUES ('x', 'broken', '', 'yesterday')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := st.ListRuns(ctx, 10)
	if err == nil || !strings.Contains(err.Error(), "yesterday") {
		t.Fatalf("ListRuns err = %v, want timestamp error", err)
	}
}
