package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"bgsched/internal/runtime/supervisor"
	"bgsched/internal/storage"
	"bgsched/internal/task/executor"
	"bgsched/internal/task/scheduler"
	logx "bgsched/pkg/logx"
)

type fakeEngine struct {
	mu        sync.Mutex
	state     executor.State
	tickErr   error
	ticks     int
	drained   bool
	triggers  int
	noTrigger bool
}

func (f *fakeEngine) State() executor.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEngine) Pause() {
	f.mu.Lock()
	f.state = executor.Paused
	f.mu.Unlock()
}

func (f *fakeEngine) Resume() {
	f.mu.Lock()
	f.state = executor.Running
	f.mu.Unlock()
}

func (f *fakeEngine) Tick(_ context.Context, drain bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	f.drained = drain
	if drain {
		return 3, f.tickErr
	}
	return 1, f.tickErr
}

func (f *fakeEngine) Trigger() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noTrigger {
		return false
	}
	f.triggers++
	return true
}

func (f *fakeEngine) Snapshot() scheduler.Snapshot {
	return scheduler.Snapshot{Queued: 2, Stats: scheduler.Stats{Ticks: 7}}
}

func (f *fakeEngine) Counters() supervisor.Counters {
	return supervisor.Counters{Active: 1, Started: 2}
}

type envelope struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path string, wantCode int) envelope {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != wantCode {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantCode, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func TestStatus(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{state: executor.Running}
	srv := New(Config{}, eng, nil, logx.Nop())

	env := do(t, srv.Handler(), http.MethodGet, "/status", http.StatusOK)
	if env.Status != "ok" || env.RequestID == "" {
		t.Fatalf("envelope = %+v, want ok with request id", env)
	}
	var data struct {
		State      string             `json:"state"`
		Scheduler  scheduler.Snapshot `json:"scheduler"`
		Goroutines supervisor.Counters
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.State != "running" {
		t.Fatalf("state = %q, want running", data.State)
	}
	if data.Scheduler.Queued != 2 || data.Scheduler.Stats.Ticks != 7 {
		t.Fatalf("scheduler = %+v, want queued 2 ticks 7", data.Scheduler)
	}
}

func TestPauseResume(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{state: executor.Running}
	h := New(Config{}, eng, nil, logx.Nop()).Handler()

	env := do(t, h, http.MethodPost, "/pause", http.StatusOK)
	if !strings.Contains(string(env.Data), `"paused"`) {
		t.Fatalf("pause data = %s, want paused", env.Data)
	}
	env = do(t, h, http.MethodPost, "/resume", http.StatusOK)
	if !strings.Contains(string(env.Data), `"running"`) {
		t.Fatalf("resume data = %s, want running", env.Data)
	}

	req := httptest.NewRequest(http.MethodGet, "/pause", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /pause status = %d, want 405", w.Code)
	}
}

func TestTick(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{}
	h := New(Config{}, eng, nil, logx.Nop()).Handler()

	env := do(t, h, http.MethodPost, "/tick", http.StatusOK)
	if string(env.Data) != `{"ticks":1}` {
		t.Fatalf("tick data = %s, want ticks 1", env.Data)
	}
	env = do(t, h, http.MethodPost, "/tick?drain=true", http.StatusOK)
	if string(env.Data) != `{"ticks":3}` || !eng.drained {
		t.Fatalf("drain data = %s drained=%v, want ticks 3", env.Data, eng.drained)
	}

	eng.mu.Lock()
	eng.tickErr = errors.New("disk full")
	eng.mu.Unlock()
	env = do(t, h, http.MethodPost, "/tick", http.StatusInternalServerError)
	if env.Status != "error" || env.Error != "disk full" {
		t.Fatalf("failed tick envelope = %+v, want error disk full", env)
	}
}

func TestTrigger(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{}
	h := New(Config{}, eng, nil, logx.Nop()).Handler()

	do(t, h, http.MethodPost, "/trigger", http.StatusOK)
	if eng.triggers != 1 {
		t.Fatalf("triggers = %d, want 1", eng.triggers)
	}

	eng.mu.Lock()
	eng.noTrigger = true
	eng.mu.Unlock()
	env := do(t, h, http.MethodPost, "/trigger", http.StatusConflict)
	if env.Error == "" {
		t.Fatal("missing error message")
	}
}

func TestRuns(t *testing.T) {
	t.Parallel()

	// No store configured.
	h := New(Config{}, &fakeEngine{}, nil, logx.Nop()).Handler()
	do(t, h, http.MethodGet, "/runs", http.StatusServiceUnavailable)

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if err := st.AppendRun(ctx, storage.RunRecord{Task: name, Started: time.Now()}); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}

	h = New(Config{}, &fakeEngine{}, st, logx.Nop()).Handler()
	env := do(t, h, http.MethodGet, "/runs?limit=2", http.StatusOK)
	var runs []storage.RunRecord
	if err := json.Unmarshal(env.Data, &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 2 || runs[0].Task != "c" || runs[1].Task != "b" {
		t.Fatalf("runs = %+v, want c, b", runs)
	}
	do(t, h, http.MethodGet, "/runs?limit=x", http.StatusBadRequest)
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	srv := New(Config{Addr: "127.0.0.1:0"}, &fakeEngine{state: executor.Idle}, nil, logx.Nop())
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("no bound address after Start")
	}

	resp, err := http.Get("http://" + addr + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if srv.Addr() != "" {
		t.Fatal("address still reported after Stop")
	}
	if _, err := http.Get("http://" + addr + "/status"); err == nil {
		t.Fatal("server still answering after Stop")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:8089": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		":8089":          false,
		"0.0.0.0:8089":   false,
		"10.0.0.2:1":     false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
