package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"bgsched/internal/config"
	"bgsched/internal/task/backend"
	"bgsched/internal/task/signal"
	logx "bgsched/pkg/logx"
)

func (a *App) logConfig(cfg *config.Config) logx.Config {
	level := cfg.Logging.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	return logx.Config{
		Level:   level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// buildBackend returns nil for kind "none".
func buildBackend(cfg config.BackendConfig, log logx.Logger, onWindow func(backend.Activity)) (backend.Backend, error) {
	log = log.With(logx.String("comp", "backend"))
	switch cfg.BackendKind() {
	case config.BackendNone:
		return nil, nil
	case config.BackendInterval:
		ic := backend.IntervalConfig{}
		var errs []error
		var err error
		ic.Interval, err = config.ParseDurationField("backend.interval", cfg.Interval)
		errs = append(errs, err)
		ic.Tolerance, err = config.ParseDurationField("backend.tolerance", cfg.Tolerance)
		errs = append(errs, err)
		ic.Window, err = config.ParseDurationField("backend.window", cfg.Window)
		errs = append(errs, err)
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
		return backend.NewInterval(ic, log, backend.WithCompletion(onWindow)), nil
	case config.BackendWatchdog:
		return backend.NewWatchdog(log), nil
	case config.BackendFile:
		return backend.NewFileTrigger(strings.TrimSpace(cfg.Path), log), nil
	default:
		return nil, fmt.Errorf("unknown backend.kind: %s", cfg.Kind)
	}
}

// buildSignal returns the wake source for the timer, cron and manual kinds.
// The system kind is resolved at start, together with its backend.
func buildSignal(cfg config.ExecutorConfig) (signal.Signal, error) {
	switch cfg.SignalKind() {
	case config.SignalTimer:
		every, err := config.ParseDurationOrDefault("executor.every", cfg.Every, time.Second)
		if err != nil {
			return nil, err
		}
		return signal.NewTimer(every, true), nil
	case config.SignalCron:
		loc := time.Local
		if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("executor.timezone: %w", err)
			}
			loc = l
		}
		c, err := signal.NewCron(cfg.Cron, loc)
		if err != nil {
			return nil, fmt.Errorf("executor.cron: %w", err)
		}
		return c, nil
	case config.SignalManual:
		return signal.NewManual(cfg.Buffer), nil
	default:
		return nil, fmt.Errorf("unknown executor.signal: %s", cfg.Signal)
	}
}
