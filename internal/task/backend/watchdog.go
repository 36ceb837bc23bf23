package backend

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "bgsched/pkg/logx"
)

// Watchdog ties ticks to the systemd service watchdog: the process notifies
// READY=1 on register, then runs one tick per half watchdog period and pings
// WATCHDOG=1 after each. A hung tick therefore lets systemd restart the unit.
type Watchdog struct {
	hook hook

	notify  func(state string) (bool, error)
	enabled func() (time.Duration, error)
}

func NewWatchdog(log logx.Logger) *Watchdog {
	return &Watchdog{
		hook: hook{log: log},
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
		enabled: func() (time.Duration, error) {
			return daemon.SdWatchdogEnabled(false)
		},
	}
}

// Available reports whether the service manager expects watchdog pings.
func (w *Watchdog) Available() bool {
	d, err := w.enabled()
	return err == nil && d > 0
}

func (w *Watchdog) Register(t Target) error {
	d, err := w.enabled()
	if err != nil {
		return err
	}
	if d <= 0 {
		return ErrUnsupported
	}
	every := d / 2
	err = w.hook.start(t, "backend.watchdog", func(ctx context.Context, t Target) error {
		return w.loop(ctx, t, every)
	})
	if err != nil {
		return err
	}
	if _, err := w.notify(daemon.SdNotifyReady); err != nil {
		w.hook.log.Warn("sd_notify ready failed", logx.Any("err", err))
	}
	w.hook.log.Info("watchdog backend registered", logx.Duration("watchdog", d), logx.Duration("tick_every", every))
	return nil
}

func (w *Watchdog) Unregister() error {
	if err := w.hook.stop(); err != nil {
		return err
	}
	if _, err := w.notify(daemon.SdNotifyStopping); err != nil {
		w.hook.log.Warn("sd_notify stopping failed", logx.Any("err", err))
	}
	return nil
}

func (w *Watchdog) loop(ctx context.Context, t Target, every time.Duration) error {
	tk := time.NewTicker(every)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
		}
		if err := t.JustNext(ctx); err != nil {
			w.hook.log.Warn("watchdog tick failed", logx.Any("err", err))
		}
		if _, err := w.notify(daemon.SdNotifyWatchdog); err != nil {
			w.hook.log.Warn("sd_notify watchdog failed", logx.Any("err", err))
		}
	}
}
