package signal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bgsched/internal/task/backend"
	logx "bgsched/pkg/logx"
)

func TestManualTriggerNeverBlocks(t *testing.T) {
	t.Parallel()
	m := NewManual(2)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			m.Trigger()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Trigger blocked on a full buffer")
	}
	if got := len(m.Events()); got != 2 {
		t.Fatalf("buffered events = %d, want 2", got)
	}
	if got := m.Dropped(); got != 8 {
		t.Fatalf("dropped = %d, want 8", got)
	}
}

func TestManualConcurrentTriggerAndClose(t *testing.T) {
	t.Parallel()
	m := NewManual(1)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Trigger()
			}
		}()
	}
	m.Close()
	m.Close()
	wg.Wait()

	// Drain whatever made it in before Close; the channel must end closed.
	for range m.Events() {
	}
	m.Trigger()
}

func TestTimerFires(t *testing.T) {
	t.Parallel()
	tm := NewTimer(5*time.Millisecond, true)
	defer tm.Close()

	for i := 0; i < 3; i++ {
		select {
		case <-tm.Events():
		case <-time.After(2 * time.Second):
			t.Fatalf("timer event %d missing", i)
		}
	}
}

func TestTimerOneShot(t *testing.T) {
	t.Parallel()
	tm := NewTimer(5*time.Millisecond, false)
	defer tm.Close()

	select {
	case <-tm.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot timer never fired")
	}
	select {
	case <-tm.Events():
		t.Fatal("one-shot timer fired twice")
	case <-time.After(50 * time.Millisecond):
	}
	tm.Trigger()
	select {
	case <-tm.Events():
	case <-time.After(time.Second):
		t.Fatal("manual trigger on timer signal lost")
	}
}

func TestTimerCloseClosesEvents(t *testing.T) {
	t.Parallel()
	tm := NewTimer(time.Hour, true)
	tm.Close()
	select {
	case _, ok := <-tm.Events():
		if ok {
			t.Fatal("received event from closed timer")
		}
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestCron(t *testing.T) {
	t.Parallel()
	if _, err := NewCron("not a cron", nil); err == nil {
		t.Fatal("NewCron accepted an invalid spec")
	}

	c, err := NewCron("@every 1s", time.UTC)
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}
	defer c.Close()
	if c.Next().IsZero() {
		t.Fatal("Next is zero for a started cron signal")
	}
	select {
	case <-c.Events():
	case <-time.After(3 * time.Second):
		t.Fatal("cron signal did not fire")
	}
}

type stubBackend struct {
	err        error
	registered atomic.Bool
}

func (b *stubBackend) Register(backend.Target) error {
	if b.err != nil {
		return b.err
	}
	b.registered.Store(true)
	return nil
}

func (b *stubBackend) Unregister() error {
	b.registered.Store(false)
	return nil
}

type nopTarget struct{}

func (nopTarget) JustNext(context.Context) error { return nil }
func (nopTarget) Pause()                         {}

func TestBackendDriven(t *testing.T) {
	t.Parallel()
	b := &stubBackend{}
	sig, err := BackendDriven(b, nopTarget{})
	if err != nil {
		t.Fatalf("BackendDriven: %v", err)
	}
	defer sig.Close()
	if !b.registered.Load() {
		t.Fatal("target not registered with backend")
	}
	if _, ok := sig.(*Manual); !ok {
		t.Fatalf("signal = %T, want *Manual", sig)
	}

	boom := errors.New("boom")
	if _, err := BackendDriven(&stubBackend{err: boom}, nopTarget{}); !errors.Is(err, boom) {
		t.Fatalf("BackendDriven err = %v, want boom", err)
	}
}

func TestSystemDrivenPicksFirstAvailable(t *testing.T) {
	t.Parallel()
	unsupported := &stubBackend{err: backend.ErrUnsupported}
	ok := &stubBackend{}

	sig, chosen := SystemDriven(nopTarget{}, logx.Nop(), unsupported, ok)
	defer sig.Close()
	if chosen != ok {
		t.Fatalf("chosen backend = %v, want the available one", chosen)
	}
	if _, isTimer := sig.(*Timer); !isTimer {
		t.Fatalf("signal = %T, want *Timer fallback", sig)
	}
}

func TestSystemDrivenWithoutBackend(t *testing.T) {
	t.Parallel()
	sig, chosen := SystemDriven(nopTarget{}, logx.Nop(), &stubBackend{err: backend.ErrUnsupported})
	defer sig.Close()
	if chosen != nil {
		t.Fatalf("chosen backend = %v, want nil", chosen)
	}
}
