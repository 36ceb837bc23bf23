package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"bgsched/internal/task/scheduler"
)

const (
	SignalTimer  = "timer"
	SignalCron   = "cron"
	SignalManual = "manual"
	SignalSystem = "system"

	BackendNone     = "none"
	BackendInterval = "interval"
	BackendWatchdog = "watchdog"
	BackendFile     = "file"

	TaskLog  = "log"
	TaskExec = "exec"
	TaskUnit = "unit"

	UnitStart   = "start"
	UnitStop    = "stop"
	UnitRestart = "restart"
	UnitCheck   = "check"

	DefaultAdminAddr = "127.0.0.1:8089"
)

var cronSpecParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// SignalKind returns the normalized signal kind (default "timer").
func (e ExecutorConfig) SignalKind() string {
	k := strings.ToLower(strings.TrimSpace(e.Signal))
	if k == "" {
		return SignalTimer
	}
	return k
}

// BackendKind returns the normalized backend kind (default "none").
func (b BackendConfig) BackendKind() string {
	k := strings.ToLower(strings.TrimSpace(b.Kind))
	if k == "" {
		return BackendNone
	}
	return k
}

func (a AdminConfig) ListenAddr() string {
	if s := strings.TrimSpace(a.Addr); s != "" {
		return s
	}
	return DefaultAdminAddr
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToUpper(strings.TrimSpace(c.Logging.Level)) {
	case "", "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	add(c.Executor.validate())
	add(c.Backend.validate())

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
		add(err)
	}

	if c.Admin.Enabled {
		if _, _, err := net.SplitHostPort(c.Admin.ListenAddr()); err != nil {
			add(fmt.Errorf("admin.addr: %w", err))
		}
	}

	seen := map[string]bool{}
	for i, t := range c.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		name := strings.TrimSpace(t.Name)
		if name == "" {
			add(fmt.Errorf("%s.name: required", path))
		} else if seen[name] {
			add(fmt.Errorf("%s.name: duplicate %q", path, name))
		}
		seen[name] = true
		add(t.validate(path))
	}

	return errors.Join(errs...)
}

func (e ExecutorConfig) validate() error {
	var errs []error
	switch e.SignalKind() {
	case SignalTimer:
		if _, err := ParseDurationField("executor.every", e.Every); err != nil {
			errs = append(errs, err)
		}
	case SignalCron:
		if strings.TrimSpace(e.Cron) == "" {
			errs = append(errs, errors.New("executor.cron: required for cron signal"))
		} else if _, err := cronSpecParser.Parse(e.Cron); err != nil {
			errs = append(errs, fmt.Errorf("executor.cron: %w", err))
		}
	case SignalManual, SignalSystem:
	default:
		errs = append(errs, fmt.Errorf("executor.signal: unknown kind %q", e.Signal))
	}
	if tz := strings.TrimSpace(e.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("executor.timezone: %w", err))
		}
	}
	if e.Buffer < 0 {
		errs = append(errs, errors.New("executor.buffer: must be >= 0"))
	}
	return errors.Join(errs...)
}

func (b BackendConfig) validate() error {
	var errs []error
	for _, f := range []struct{ path, raw string }{
		{"backend.interval", b.Interval},
		{"backend.tolerance", b.Tolerance},
		{"backend.window", b.Window},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}
	switch b.BackendKind() {
	case BackendNone, BackendInterval, BackendWatchdog:
	case BackendFile:
		if strings.TrimSpace(b.Path) == "" {
			errs = append(errs, errors.New("backend.path: required for file backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend.kind: unknown kind %q", b.Kind))
	}
	return errors.Join(errs...)
}

func (t TaskConfig) validate(path string) error {
	var errs []error
	if _, err := scheduler.ParseMode(t.Mode); err != nil {
		errs = append(errs, fmt.Errorf("%s.mode: %w", path, err))
	}
	switch strings.ToLower(strings.TrimSpace(t.Kind)) {
	case TaskLog:
	case TaskExec:
		if len(t.Command) == 0 || strings.TrimSpace(t.Command[0]) == "" {
			errs = append(errs, fmt.Errorf("%s.command: required for exec task", path))
		}
	case TaskUnit:
		if strings.TrimSpace(t.Unit) == "" {
			errs = append(errs, fmt.Errorf("%s.unit: required for unit task", path))
		}
		switch t.UnitAction() {
		case UnitStart, UnitStop, UnitRestart, UnitCheck:
		default:
			errs = append(errs, fmt.Errorf("%s.action: unknown action %q", path, t.Action))
		}
	default:
		errs = append(errs, fmt.Errorf("%s.kind: unknown kind %q", path, t.Kind))
	}
	if _, err := ParseDurationField(path+".timeout", t.Timeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// UnitAction returns the normalized unit action (default "check").
func (t TaskConfig) UnitAction() string {
	a := strings.ToLower(strings.TrimSpace(t.Action))
	if a == "" {
		return UnitCheck
	}
	return a
}

// ParseDurationField parses an optional non-negative duration; empty is 0.
// path names the field in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
