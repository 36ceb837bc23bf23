package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bgsched/internal/storage"
	logx "bgsched/pkg/logx"
)

func writeConfig(t *testing.T, body string) (path, dir string) {
	t.Helper()
	dir = t.TempDir()
	body = strings.ReplaceAll(body, "$DIR", dir)
	path = filepath.Join(dir, "bgsched.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

const tasksConfig = `
logging:
  level: error
storage:
  driver: file
  path: $DIR/history
tasks:
  - name: heartbeat
    mode: every:30s
    kind: log
  - name: warmup
    mode: immediate
    kind: log
    message: warming up
`

func TestValidateCmd(t *testing.T) {
	path, _ := writeConfig(t, tasksConfig)
	out, err := execute(t, "validate", "--config", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, want := range []string{"config ok", "signal=timer", "heartbeat", "periodic:30s", "warmup", "immediate"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateCmdRejects(t *testing.T) {
	path, _ := writeConfig(t, `
tasks:
  - name: x
    mode: sometimes
    kind: log
`)
	_, err := execute(t, "validate", "-c", path)
	if err == nil || !strings.Contains(err.Error(), "tasks[0].mode") {
		t.Fatalf("err = %v, want tasks[0].mode problem", err)
	}
}

func TestTickCmd(t *testing.T) {
	path, _ := writeConfig(t, tasksConfig)

	out, err := execute(t, "tick", "--config", path)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !strings.Contains(out, "ticks=1 executed=1 failed=0") {
		t.Fatalf("tick output = %q", out)
	}

	// warmup, then the first heartbeat promoted by the first tick.
	out, err = execute(t, "tick", "--drain", "--config", path)
	if err != nil {
		t.Fatalf("tick --drain: %v", err)
	}
	if !strings.Contains(out, "ticks=2 executed=2 failed=0") {
		t.Fatalf("drain output = %q", out)
	}

	// Both invocations land in the configured store.
	out, err = execute(t, "history", "--config", path)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "3 runs shown, 0 failed") || !strings.Contains(out, "heartbeat") {
		t.Fatalf("history after tick = %q", out)
	}
}

func TestHistoryCmd(t *testing.T) {
	path, dir := writeConfig(t, tasksConfig)

	out, err := execute(t, "history", "--config", path)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "No runs recorded.") {
		t.Fatalf("empty history output = %q", out)
	}

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "history")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	now := time.Now()
	_ = st.AppendRun(ctx, storage.RunRecord{Task: "warmup", Mode: "immediate", Started: now.Add(-time.Minute), Duration: 3 * time.Millisecond})
	_ = st.AppendRun(ctx, storage.RunRecord{Task: "heartbeat", Mode: "periodic:30s", Started: now, Duration: time.Millisecond, Error: "boom"})
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	out, err = execute(t, "history", "--limit", "5", "--config", path)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, want := range []string{"warmup", "heartbeat", "error: boom", "2 runs shown, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "heartbeat") > strings.Index(out, "warmup") {
		t.Fatalf("runs not newest first:\n%s", out)
	}
}

func TestHistoryCmdDisabled(t *testing.T) {
	path, _ := writeConfig(t, "logging:\n  level: error\n")
	_, err := execute(t, "history", "--config", path)
	if err == nil || !strings.Contains(err.Error(), storage.ErrDisabled.Error()) {
		t.Fatalf("err = %v, want storage disabled", err)
	}
}
