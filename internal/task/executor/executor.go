// Package executor drives a scheduler from a wake signal.
//
// The executor keeps an idle/running/paused state. A continuous loop ticks
// the scheduler once per signal event while the state is running and exits
// as soon as it observes any other state. JustNext ticks once, regardless of
// state, for callers woken by something else (a platform backend, the CLI).
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bgsched/internal/eventbus"
	"bgsched/internal/runtime/supervisor"
	"bgsched/internal/shared"
	"bgsched/internal/task/signal"
	logx "bgsched/pkg/logx"
)

type State int

const (
	Idle State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Runner is the single tick primitive (*scheduler.Scheduler).
type Runner interface {
	RunNext(ctx context.Context) error
}

// Stop reasons carried by executor.stopped events.
const (
	StopCancelled        = "cancelled"
	StopNoSignal         = "no_signal"
	StopSignalClosed     = "signal_closed"
	StopNotRunning       = "not_running"
	StopStateUnavailable = "state_unavailable"
)

type StateEvent struct {
	From State
	To   State
}

type Executor struct {
	sched Runner
	log   logx.Logger
	bus   eventbus.Bus

	state *shared.Resource[State]
	sig   *shared.Resource[signal.Signal]

	failures *logx.Throttle

	mu   sync.Mutex
	loop *Handle
}

type Option func(*Executor)

// WithFailureLogRate caps "tick failed" log lines per second (<= 0: unlimited).
// Suppressed lines are still counted and published on the bus.
func WithFailureLogRate(perSec float64) Option {
	return func(e *Executor) { e.failures = logx.NewThrottle(perSec) }
}

// New builds an idle executor. sig may be nil; the loop then exits at once
// until SetSignal provides one.
func New(sched Runner, sig signal.Signal, log logx.Logger, bus eventbus.Bus, opts ...Option) *Executor {
	e := &Executor{
		sched:    sched,
		log:      log,
		bus:      bus,
		state:    shared.New(Idle),
		sig:      shared.Empty[signal.Signal](),
		failures: logx.NewThrottle(1),
	}
	if sig != nil {
		e.sig.Override(sig)
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e
}

// SetSignal swaps the wake source. A loop already running keeps the signal it
// started with.
func (e *Executor) SetSignal(sig signal.Signal) {
	if sig == nil {
		e.sig.Clear()
		return
	}
	e.sig.Override(sig)
}

// Signal returns the current wake source, or nil.
func (e *Executor) Signal() signal.Signal {
	sig, _ := e.sig.Load()
	return sig
}

// State returns the current state. A missing state reads as Idle.
func (e *Executor) State() State { return e.state.ReadOr(Idle) }

// JustNext performs exactly one scheduler tick, whatever the state, and
// returns the task error unchanged.
func (e *Executor) JustNext(ctx context.Context) error {
	return e.sched.RunNext(ctx)
}

// Pause gates out the next signal event. An in-flight tick is not interrupted.
func (e *Executor) Pause() { e.setState(Paused) }

// Resume sets the state to running and starts the loop.
func (e *Executor) Resume(ctx context.Context) *Handle {
	e.setState(Running)
	return e.RunContinuously(ctx)
}

// ResumeAndWait resumes and blocks until the loop exits or ctx is done.
func (e *Executor) ResumeAndWait(ctx context.Context) error {
	return e.Resume(ctx).Wait(ctx)
}

// RunContinuously starts the loop, or returns the handle of the loop that is
// still running. It does not change the state: an idle executor's loop exits
// on the first event.
func (e *Executor) RunContinuously(ctx context.Context) *Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loop != nil && !e.loop.retired && e.loop.sup.Context().Err() == nil {
		return e.loop
	}

	sig, _ := e.sig.Load()
	sup := supervisor.New(ctx, supervisor.WithLogger(e.log))
	h := &Handle{sup: sup}
	sup.Go0("executor.loop", func(ctx context.Context) {
		reason := e.run(ctx, sig, h)
		e.mu.Lock()
		h.retired = true
		e.mu.Unlock()
		sup.Cancel()
		e.log.Debug("executor loop stopped", logx.String("reason", reason))
		eventbus.Publish(e.bus, eventbus.ExecutorStopped, reason)
	})
	e.loop = h
	return h
}

// retire decides, under e.mu, whether the loop behind h exits after seeing a
// non-running state. The loop stays if a Resume got in first.
func (e *Executor) retire(h *Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() == Running {
		return false
	}
	h.retired = true
	return true
}

func (e *Executor) run(ctx context.Context, sig signal.Signal, h *Handle) string {
	if sig == nil {
		return StopNoSignal
	}
	events := sig.Events()
	for {
		select {
		case <-ctx.Done():
			return StopCancelled
		case _, ok := <-events:
			if !ok {
				return StopSignalClosed
			}
		}
		if ctx.Err() != nil {
			return StopCancelled
		}

		st, err := e.state.Read()
		if err != nil {
			e.log.Error("executor state unavailable; stopping loop", logx.Any("err", err))
			return StopStateUnavailable
		}
		if st != Running {
			if e.retire(h) {
				return StopNotRunning
			}
			continue
		}

		// Cancelling the loop must not abort a tick that already started.
		if err := e.sched.RunNext(context.WithoutCancel(ctx)); err != nil {
			e.tickFailed(err)
		}
	}
}

func (e *Executor) tickFailed(err error) {
	eventbus.Publish(e.bus, eventbus.ExecutorTickFailed, err)
	ok, suppressed := e.failures.Allow()
	if !ok {
		return
	}
	fields := []logx.Field{logx.Any("err", err)}
	if suppressed > 0 {
		fields = append(fields, logx.Uint64("suppressed", suppressed))
	}
	e.log.Warn("tick failed", fields...)
}

func (e *Executor) setState(to State) {
	from := shared.Access(e.state, func(s *shared.Slot[State]) State {
		prev, _ := s.Get()
		s.Set(to)
		return prev
	})
	if from != to {
		e.log.Debug("executor state changed", logx.String("from", from.String()), logx.String("to", to.String()))
	}
	eventbus.Publish(e.bus, eventbus.ExecutorState, StateEvent{From: from, To: to})
}

// Handle controls one run of the continuous loop.
type Handle struct {
	sup *supervisor.Supervisor

	// retired is set under Executor.mu once the loop has decided to exit.
	retired bool
}

// Cancel stops the loop between ticks. It does not wait.
func (h *Handle) Cancel() { h.sup.Cancel() }

// Done is closed when the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.sup.Done() }

// Wait blocks until the loop exits (nil) or ctx is done (ctx.Err()).
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.Done():
		if err := h.sup.Err(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
