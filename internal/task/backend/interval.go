package backend

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	logx "bgsched/pkg/logx"
)

type IntervalConfig struct {
	// Interval between execution windows.
	Interval time.Duration
	// Tolerance is the maximum random shift applied to each Interval.
	Tolerance time.Duration
	// Window bounds one execution turn. Zero means unbounded.
	Window time.Duration
}

// Activity reports how one execution window ended.
type Activity struct {
	Started time.Time
	Err     error
	Expired bool
}

// Interval opens an execution window every Interval (± Tolerance). Inside a
// window it runs exactly one tick; if the window closes first the target is
// paused and the window reported as expired.
type Interval struct {
	cfg  IntervalConfig
	hook hook

	onDone  func(Activity)
	windows atomic.Uint64
	expired atomic.Uint64
}

type IntervalOption func(*Interval)

// WithCompletion registers a callback invoked after every window.
func WithCompletion(fn func(Activity)) IntervalOption {
	return func(b *Interval) { b.onDone = fn }
}

func NewInterval(cfg IntervalConfig, log logx.Logger, opts ...IntervalOption) *Interval {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Tolerance < 0 {
		cfg.Tolerance = 0
	}
	b := &Interval{cfg: cfg, hook: hook{log: log}}
	for _, o := range opts {
		if o != nil {
			o(b)
		}
	}
	return b
}

func (b *Interval) Register(t Target) error {
	if err := b.hook.start(t, "backend.interval", b.loop); err != nil {
		return err
	}
	b.hook.log.Info("interval backend registered",
		logx.Duration("interval", b.cfg.Interval),
		logx.Duration("tolerance", b.cfg.Tolerance),
		logx.Duration("window", b.cfg.Window))
	return nil
}

func (b *Interval) Unregister() error { return b.hook.stop() }

// Windows returns how many windows ran and how many of them expired.
func (b *Interval) Windows() (total, expired uint64) {
	return b.windows.Load(), b.expired.Load()
}

func (b *Interval) loop(ctx context.Context, t Target) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.nextDelay()):
		}
		b.window(ctx, t)
	}
}

func (b *Interval) nextDelay() time.Duration {
	d := b.cfg.Interval
	if tol := b.cfg.Tolerance; tol > 0 {
		d += time.Duration(rand.Int64N(int64(2*tol)+1)) - tol
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (b *Interval) window(ctx context.Context, t Target) {
	act := Activity{Started: time.Now()}
	b.windows.Add(1)

	done := make(chan error, 1)
	go func() { done <- t.JustNext(ctx) }()

	var expire <-chan time.Time
	if b.cfg.Window > 0 {
		timer := time.NewTimer(b.cfg.Window)
		defer timer.Stop()
		expire = timer.C
	}

	select {
	case act.Err = <-done:
	case <-expire:
		act.Expired = true
		b.expired.Add(1)
		t.Pause()
		b.hook.log.Warn("execution window expired; target paused", logx.Duration("window", b.cfg.Window))
		// The tick itself is never interrupted; wait for it before the next window.
		select {
		case act.Err = <-done:
		case <-ctx.Done():
		}
	}

	if act.Err != nil {
		b.hook.log.Warn("window tick failed", logx.Any("err", act.Err))
	}
	if b.onDone != nil {
		b.onDone(act)
	}
}
