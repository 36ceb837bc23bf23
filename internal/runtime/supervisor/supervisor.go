// Package supervisor runs named goroutines under one cancellable context.
//
// Panics are recovered and recorded as errors. With WithCancelOnError the
// first failure cancels every sibling. GoRestart keeps a watcher alive with
// exponential backoff.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "bgsched/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	wg       sync.WaitGroup
	started  atomic.Uint64
	active   atomic.Int64
	firstErr atomic.Pointer[error]

	doneOnce sync.Once
	done     chan struct{}
}

type Option func(*Supervisor)

// Counters are for status output; do not synchronize on them.
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first goroutine failure cancel the context.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the context and returns at once.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first recorded failure, or nil.
func (s *Supervisor) Err() error {
	if p := s.firstErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{Active: s.active.Load(), Started: s.started.Load()}
}

// Go runs fn as goroutine name. context.Canceled counts as a clean return.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		s.log.Debug("goroutine started", logx.String("name", name))
		err := guard(s.ctx, fn, func(p any, stack string) {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", p), logx.Stack(stack))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// Go0 is Go for bodies that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max time.Duration
	limit    int // 0: unlimited
}

// WithRestartBackoff sets the first and the largest pause between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts gives up, recording the last error, after n restarts.
// The first run is not a restart.
func WithMaxRestarts(n int) RestartOption {
	return func(p *restartPolicy) { p.limit = n }
}

// stableRun is how long a run must last for the backoff to start over.
const stableRun = 30 * time.Second

// GoRestart runs fn again whenever it fails or panics, until it returns nil
// or the context ends. Meant for long-lived watchers.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	pol := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(&pol)
	}
	pol.max = max(pol.max, pol.min)

	s.Go0(name+".restart", func(ctx context.Context) {
		s.restartLoop(ctx, name, fn, pol)
	})
}

func (s *Supervisor) restartLoop(ctx context.Context, name string, fn func(ctx context.Context) error, pol restartPolicy) {
	wait := pol.min
	for restarts := 1; ; restarts++ {
		began := time.Now()
		err := guard(ctx, fn, func(p any, stack string) {
			s.log.Error("goroutine panicked; restarting", logx.String("name", name), logx.Any("panic", p), logx.Stack(stack))
		})
		if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		if pol.limit > 0 && restarts > pol.limit {
			s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts-1), logx.Any("err", err))
			s.fail(fmt.Errorf("%s: %w", name, err))
			return
		}
		if time.Since(began) >= stableRun {
			wait = pol.min
		}

		pause := wait + jitter(wait)
		s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", pause), logx.Any("err", err))
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		wait = min(wait*2, pol.max)
	}
}

// jitter returns up to a fifth of d.
func jitter(d time.Duration) time.Duration {
	if j := int64(d) / 5; j > 0 {
		return time.Duration(rand.Int64N(j + 1))
	}
	return 0
}

func guard(ctx context.Context, fn func(ctx context.Context) error, onPanic func(p any, stack string)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			onPanic(r, string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Stop cancels and waits like Wait.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Done is closed once every goroutine started so far has returned.
// Do not start goroutines after the first call to Done or Wait.
func (s *Supervisor) Done() <-chan struct{} {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	return s.done
}

// Wait returns Err once all goroutines are done, or ctx.Err() first.
func (s *Supervisor) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.Done():
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	if err == nil {
		return
	}
	s.firstErr.CompareAndSwap(nil, &err)
	if s.cancelOnErr {
		s.cancel()
	}
}
