package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"bgsched/internal/eventbus"
	"bgsched/internal/task/scheduler"
	"bgsched/internal/task/signal"
	logx "bgsched/pkg/logx"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not exit")
	}
}

func counter(n *atomic.Int64) scheduler.Task {
	return scheduler.Func("count", func(context.Context) error {
		n.Add(1)
		return nil
	})
}

func TestPauseGatesNextEventAndResumeRestarts(t *testing.T) {
	t.Parallel()
	sched := scheduler.New(logx.Nop(), nil)
	sig := signal.NewManual(4)
	defer sig.Close()
	ex := New(sched, sig, logx.Nop(), nil)

	var n atomic.Int64
	sched.Schedule(counter(&n), scheduler.Immediate())
	sched.Schedule(counter(&n), scheduler.Immediate())

	h := ex.Resume(context.Background())
	ex.Pause()
	sig.Trigger()
	waitDone(t, h)
	if got := n.Load(); got != 0 {
		t.Fatalf("executions while paused = %d, want 0", got)
	}
	if h.sup.Context().Err() == nil {
		t.Fatal("context of an exited loop still live")
	}
	if ex.State() != Paused {
		t.Fatalf("state = %s, want paused", ex.State())
	}

	h2 := ex.Resume(context.Background())
	if h2 == h {
		t.Fatal("Resume reused an exited loop")
	}
	sig.Trigger()
	waitFor(t, "execution after resume", func() bool { return n.Load() == 1 })

	h2.Cancel()
	waitDone(t, h2)
}

func TestResumeRightAfterPausedLoopTookEvent(t *testing.T) {
	t.Parallel()
	sched := scheduler.New(logx.Nop(), nil)
	sig := signal.NewManual(4)
	defer sig.Close()
	ex := New(sched, sig, logx.Nop(), nil)
	ctx := context.Background()

	var n atomic.Int64
	var h *Handle
	for i := 1; i <= 200; i++ {
		ex.Resume(ctx)
		ex.Pause()
		sig.Trigger()
		waitFor(t, "paused loop to take the event", func() bool { return len(sig.Events()) == 0 })

		h = ex.Resume(ctx)
		sched.Schedule(counter(&n), scheduler.Immediate())
		sig.Trigger()
		want := int64(i)
		waitFor(t, "execution after resume", func() bool { return n.Load() == want })
		if ex.State() != Running {
			t.Fatalf("iteration %d: state = %s, want running", i, ex.State())
		}
	}
	h.Cancel()
	waitDone(t, h)
}

func TestJustNextIgnoresState(t *testing.T) {
	t.Parallel()
	sched := scheduler.New(logx.Nop(), nil)
	ex := New(sched, nil, logx.Nop(), nil)

	var n atomic.Int64
	for i := 0; i < 3; i++ {
		sched.Schedule(counter(&n), scheduler.Immediate())
	}

	if err := ex.JustNext(context.Background()); err != nil {
		t.Fatalf("JustNext while idle: %v", err)
	}
	ex.Pause()
	if err := ex.JustNext(context.Background()); err != nil {
		t.Fatalf("JustNext while paused: %v", err)
	}
	if got := n.Load(); got != 2 {
		t.Fatalf("executions = %d, want 2 (one per JustNext)", got)
	}
	if ex.State() != Paused {
		t.Fatalf("JustNext changed state to %s", ex.State())
	}
}

func TestJustNextReturnsTaskError(t *testing.T) {
	t.Parallel()
	sched := scheduler.New(logx.Nop(), nil)
	ex := New(sched, nil, logx.Nop(), nil)

	boom := errors.New("boom")
	sched.Schedule(scheduler.Func("bad", func(context.Context) error { return boom }), scheduler.Immediate())
	if err := ex.JustNext(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("JustNext err = %v, want boom", err)
	}
}

func TestLoopSurvivesTaskErrors(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	failed, unsub := bus.Subscribe(16)
	defer unsub()

	sched := scheduler.New(logx.Nop(), nil)
	sig := signal.NewManual(8)
	defer sig.Close()
	ex := New(sched, sig, logx.Nop(), bus, WithFailureLogRate(0))

	var n atomic.Int64
	sched.Schedule(scheduler.Func("bad", func(context.Context) error { return errors.New("boom") }), scheduler.Immediate())
	sched.Schedule(counter(&n), scheduler.Immediate())

	h := ex.Resume(context.Background())
	defer func() {
		h.Cancel()
		waitDone(t, h)
	}()
	sig.Trigger()
	sig.Trigger()
	waitFor(t, "task after failure", func() bool { return n.Load() == 1 })

	sawFailure := false
	for !sawFailure {
		select {
		case ev := <-failed:
			sawFailure = ev.Type == eventbus.ExecutorTickFailed
		case <-time.After(2 * time.Second):
			t.Fatal("no executor.tick_failed event")
		}
	}
	select {
	case <-h.Done():
		t.Fatal("loop exited after a task error")
	default:
	}
}

func TestNilSignalExitsImmediately(t *testing.T) {
	t.Parallel()
	ex := New(scheduler.New(logx.Nop(), nil), nil, logx.Nop(), nil)
	h := ex.Resume(context.Background())
	waitDone(t, h)
	if err := h.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestClosedSignalEndsLoop(t *testing.T) {
	t.Parallel()
	sig := signal.NewManual(1)
	ex := New(scheduler.New(logx.Nop(), nil), sig, logx.Nop(), nil)
	h := ex.Resume(context.Background())
	sig.Close()
	waitDone(t, h)
}

func TestStopsWhenStateUnavailable(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	sig := signal.NewManual(1)
	defer sig.Close()
	ex := New(scheduler.New(logx.Nop(), nil), sig, logx.Nop(), bus)
	ex.state.Clear()

	h := ex.RunContinuously(context.Background())
	sig.Trigger()
	waitDone(t, h)

	for {
		select {
		case ev := <-events:
			if ev.Type != eventbus.ExecutorStopped {
				continue
			}
			if reason, _ := ev.Data.(string); reason != StopStateUnavailable {
				t.Fatalf("stop reason = %v, want %s", ev.Data, StopStateUnavailable)
			}
			return
		case <-time.After(2 * time.Second):
			t.Fatal("no executor.stopped event")
		}
	}
}

func TestIdleLoopExitsOnFirstEvent(t *testing.T) {
	t.Parallel()
	sched := scheduler.New(logx.Nop(), nil)
	var n atomic.Int64
	sched.Schedule(counter(&n), scheduler.Immediate())

	sig := signal.NewManual(1)
	defer sig.Close()
	ex := New(sched, sig, logx.Nop(), nil)

	h := ex.RunContinuously(context.Background())
	sig.Trigger()
	waitDone(t, h)
	if n.Load() != 0 {
		t.Fatal("idle executor ticked")
	}
}

func TestRunContinuouslyReturnsLiveHandle(t *testing.T) {
	t.Parallel()
	sig := signal.NewManual(1)
	defer sig.Close()
	ex := New(scheduler.New(logx.Nop(), nil), sig, logx.Nop(), nil)

	h1 := ex.Resume(context.Background())
	h2 := ex.RunContinuously(context.Background())
	if h1 != h2 {
		t.Fatal("second RunContinuously started another loop")
	}
	h1.Cancel()
	waitDone(t, h1)
}

func TestPauseDoesNotInterruptInFlightTick(t *testing.T) {
	t.Parallel()
	sched := scheduler.New(logx.Nop(), nil)
	sig := signal.NewManual(2)
	defer sig.Close()
	ex := New(sched, sig, logx.Nop(), nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	sched.Schedule(scheduler.Func("long", func(ctx context.Context) error {
		close(started)
		<-release
		if ctx.Err() != nil {
			return ctx.Err()
		}
		finished.Store(true)
		return nil
	}), scheduler.Immediate())

	h := ex.Resume(context.Background())
	sig.Trigger()
	<-started
	ex.Pause()
	h.Cancel()
	close(release)
	waitDone(t, h)

	if !finished.Load() {
		t.Fatal("in-flight tick was interrupted")
	}
}

func TestResumeAndWaitHonoursContext(t *testing.T) {
	t.Parallel()
	sig := signal.NewManual(1)
	defer sig.Close()
	ex := New(scheduler.New(logx.Nop(), nil), sig, logx.Nop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := ex.ResumeAndWait(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ResumeAndWait = %v, want nil or deadline exceeded", err)
	}
	if ex.State() != Running {
		t.Fatalf("state = %s, want running", ex.State())
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    State
		want string
	}{
		{Idle, "idle"},
		{Running, "running"},
		{Paused, "paused"},
		{State(9), "State(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Fatalf("State(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}
