package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bgsched/internal/admin"
	"bgsched/internal/config"
	"bgsched/internal/eventbus"
	"bgsched/internal/jobs"
	"bgsched/internal/runtime/supervisor"
	"bgsched/internal/storage"
	"bgsched/internal/task/backend"
	"bgsched/internal/task/executor"
	"bgsched/internal/task/scheduler"
	"bgsched/internal/task/signal"
	logx "bgsched/pkg/logx"
)

// maxDrainTicks bounds Tick(ctx, true) so a periodic task with a tiny
// interval cannot keep the queue non-empty forever.
const maxDrainTicks = 10000

type App struct {
	cfgPath  string
	logLevel string

	cfgm *config.Manager
	cfg  *config.Config
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sched   *scheduler.Scheduler
	exec    *executor.Executor
	backend backend.Backend
	admin   *admin.Server

	tasksOnce sync.Once
	tasksErr  error

	// recording is set once the history.record subscriber runs.
	recording atomic.Bool

	mu      sync.Mutex
	loop    *executor.Handle
	started bool
	stopped bool
}

type Option func(*App)

// WithLogLevel overrides logging.level from the file, including on reload.
func WithLogLevel(level string) Option {
	return func(a *App) { a.logLevel = strings.TrimSpace(level) }
}

// New loads the config and wires every component without starting anything.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("INFO").With(logx.String("comp", "config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{cfgPath: cfgPath, cfgm: cfgm, cfg: cfg, bus: eventbus.New()}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}

	logs, log := logx.New(a.logConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a.logs = logs
	a.log = log.With(logx.String("comp", "app"))

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logs.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
	}

	a.sched = scheduler.New(log.With(logx.String("comp", "scheduler")), a.bus)

	var execOpts []executor.Option
	if r := cfg.Executor.FailureLogRate; r != 0 {
		execOpts = append(execOpts, executor.WithFailureLogRate(r))
	}
	// The signal is attached on Start; timers must not run before that.
	a.exec = executor.New(a.sched, nil, log.With(logx.String("comp", "executor")), a.bus, execOpts...)

	a.backend, err = buildBackend(cfg.Backend, log, a.onWindow)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	if cfg.Admin.Enabled {
		a.admin = admin.New(admin.Config{Addr: cfg.Admin.ListenAddr()}, a, a.store, log)
	}
	return a, nil
}

func (a *App) Logger() logx.Logger { return a.log }

// Config returns the config in effect (startup values plus hot-reloaded sections).
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// scheduleTasks schedules the configured tasks exactly once.
func (a *App) scheduleTasks() error {
	a.tasksOnce.Do(func() {
		jobLog := a.log.With(logx.String("comp", "jobs"))
		var errs []error
		for _, tc := range a.Config().Tasks {
			t, mode, err := jobs.Build(tc, jobLog)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			id := a.sched.Schedule(t, mode)
			a.log.Info("task registered", logx.String("task", tc.Name), logx.String("mode", mode.String()), logx.String("id", string(id)))
		}
		a.tasksErr = errors.Join(errs...)
	})
	return a.tasksErr
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("app already started")
	}
	a.started = true
	a.mu.Unlock()

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.Config()

	if err := a.scheduleTasks(); err != nil {
		return err
	}

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256)
		a.recording.Store(true)
		a.sup.Go0("history.record", func(c context.Context) {
			defer unsub()
			a.recordRuns(c, events)
		})
	}

	// Optional: log events for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Keep this debug-level to avoid noise for fast signals.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	if a.admin != nil {
		if err := a.admin.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("admin: %w", err)
		}
	}

	if err := a.attachSignal(cfg); err != nil {
		return err
	}

	a.Resume()
	a.log.Info("app started",
		logx.String("signal", cfg.Executor.SignalKind()),
		logx.String("backend", cfg.Backend.BackendKind()),
		logx.Int("tasks", len(cfg.Tasks)),
	)
	return nil
}

// attachSignal builds the wake source and registers the backend with the
// executor.
//
//   - system: 60s fallback timer plus the configured backend (or the systemd
//     watchdog); a backend that is unavailable leaves the timer alone.
//   - manual with a backend: the backend drives ticks, the manual signal only
//     carries explicit triggers.
//   - otherwise the configured signal drives the loop and the backend, if any,
//     ticks alongside it.
func (a *App) attachSignal(cfg *config.Config) error {
	kind := cfg.Executor.SignalKind()
	log := a.log.With(logx.String("comp", "signal"))

	switch {
	case kind == config.SignalSystem:
		var candidates []backend.Backend
		if a.backend != nil {
			candidates = append(candidates, a.backend)
		}
		sig, chosen := signal.SystemDriven(a.exec, log, candidates...)
		a.exec.SetSignal(sig)
		a.backend = chosen
		return nil

	case kind == config.SignalManual && a.backend != nil:
		sig, err := signal.BackendDriven(a.backend, a.exec)
		if err != nil {
			return fmt.Errorf("backend: %w", err)
		}
		a.exec.SetSignal(sig)
		return nil
	}

	sig, err := buildSignal(cfg.Executor)
	if err != nil {
		return err
	}
	a.exec.SetSignal(sig)
	if a.backend != nil {
		if err := a.backend.Register(a.exec); err != nil {
			if errors.Is(err, backend.ErrUnsupported) {
				a.log.Warn("backend unavailable on this host; continuing without it", logx.String("kind", cfg.Backend.BackendKind()))
				a.backend = nil
				return nil
			}
			return fmt.Errorf("backend: %w", err)
		}
	}
	return nil
}

func (a *App) onWindow(act backend.Activity) {
	switch {
	case act.Expired:
		a.log.Warn("backend window expired; executor paused", logx.Time("started", act.Started))
	case act.Err != nil:
		a.log.Warn("backend tick failed", logx.Any("err", act.Err))
	default:
		a.log.Debug("backend window done", logx.Time("started", act.Started))
	}
}

func (a *App) applyConfig(newCfg *config.Config) {
	a.mu.Lock()
	old := a.cfg
	a.mu.Unlock()

	sections, attrs := config.SummarizeChange(old, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)

	for _, s := range sections {
		if s == config.SectionLogging {
			a.logs.Apply(a.logConfig(newCfg))
		}
	}
	if !config.HotReloadable(sections) {
		a.log.Warn("config sections changed that apply only after restart", logx.String("changed", strings.Join(sections, ",")))
	}

	// Only hot-reloadable sections are taken over; the rest keeps the
	// startup values until restart.
	a.mu.Lock()
	merged := *a.cfg
	merged.Logging = newCfg.Logging
	a.cfg = &merged
	a.mu.Unlock()
}

// State returns the executor state.
func (a *App) State() executor.State { return a.exec.State() }

func (a *App) Pause() { a.exec.Pause() }

// Resume sets the executor running and (re)starts its loop under the app
// supervisor.
func (a *App) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup == nil || a.stopped {
		return
	}
	a.loop = a.exec.Resume(a.sup.Context())
}

// Tick runs one scheduler tick, whatever the executor state. With drain it
// keeps ticking while the queue is non-empty. Task errors do not stop a
// drain; they are joined into the returned error.
//
// Without a running history recorder (no Start, as in the tick command) the
// runs are appended to the store after each tick.
func (a *App) Tick(ctx context.Context, drain bool) (int, error) {
	if err := a.scheduleTasks(); err != nil {
		return 0, err
	}
	var events <-chan eventbus.Event
	if a.store != nil && !a.recording.Load() {
		ch, unsub := a.bus.Subscribe(256)
		defer unsub()
		events = ch
	}
	var errs []error
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := a.exec.JustNext(ctx); err != nil {
			errs = append(errs, err)
		}
		a.flushRuns(ctx, events)
		n++
		if !drain || n >= maxDrainTicks || a.sched.Snapshot().Queued == 0 {
			break
		}
	}
	return n, errors.Join(errs...)
}

// Trigger fires the executor's signal.
func (a *App) Trigger() bool {
	sig := a.exec.Signal()
	if sig == nil {
		return false
	}
	sig.Trigger()
	return true
}

func (a *App) Snapshot() scheduler.Snapshot { return a.sched.Snapshot() }

func (a *App) Counters() supervisor.Counters { return a.sup.Counters() }

// Close releases what New opened. Use it instead of Stop when Start was never called.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.logs.Close())
	return errors.Join(errs...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.mu.Lock()
	if a.sup == nil || a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	loop := a.loop
	a.mu.Unlock()

	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// fn must honor stepCtx; if it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// The in-flight tick finishes; no new one starts.
	step("executor", 5*time.Second, func(c context.Context) error {
		a.exec.Pause()
		if loop == nil {
			return nil
		}
		loop.Cancel()
		return loop.Wait(c)
	})
	step("backend", 3*time.Second, func(c context.Context) error {
		if a.backend == nil {
			return nil
		}
		if err := a.backend.Unregister(); err != nil && !errors.Is(err, backend.ErrNotRegistered) {
			return err
		}
		return nil
	})
	step("admin", 2*time.Second, func(c context.Context) error {
		if a.admin == nil {
			return nil
		}
		return a.admin.Stop(c)
	})
	step("signal", 1*time.Second, func(c context.Context) error {
		if sig := a.exec.Signal(); sig != nil {
			sig.Close()
		}
		return nil
	})

	// Wait for supervised goroutines (config watch/reload, history recorder).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Stop(c) })

	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
