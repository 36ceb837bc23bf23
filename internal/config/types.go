package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Executor ExecutorConfig `json:"executor"`
	Backend  BackendConfig  `json:"backend"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Admin    AdminConfig    `json:"admin"`
	Tasks    []TaskConfig   `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ExecutorConfig selects the wake signal of the continuous loop.
//
// Signal kinds:
//   - "timer"  : fixed cadence, every (default "1s")
//   - "cron"   : cron expression, cron + timezone
//   - "manual" : only explicit triggers (admin API, backends)
//   - "system" : 60s fallback timer plus the systemd watchdog when enabled
//
// Defaults (when fields are omitted/zero):
//   - signal: "timer"
//   - every: "1s"
//   - buffer: 1
//   - failure_log_rate: 1 line/s
type ExecutorConfig struct {
	Signal   string `json:"signal,omitempty"`
	Every    string `json:"every,omitempty"`
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
	Buffer   int    `json:"buffer,omitempty"`

	// FailureLogRate caps "tick failed" log lines per second. Negative disables the cap.
	FailureLogRate float64 `json:"failure_log_rate,omitempty"`
}

// BackendConfig hooks an external wake-up mechanism to the executor.
//
// Kinds:
//   - "" / "none"
//   - "interval" : execution window every interval (± tolerance), bounded by window
//   - "watchdog" : systemd watchdog pings (requires WatchdogSec= in the unit)
//   - "file"     : tick whenever path is written or created
type BackendConfig struct {
	Kind      string `json:"kind,omitempty"`
	Interval  string `json:"interval,omitempty"`
	Tolerance string `json:"tolerance,omitempty"`
	Window    string `json:"window,omitempty"`
	Path      string `json:"path,omitempty"`
}

// StorageConfig controls the run history store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./bgsched_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AdminConfig controls the HTTP control surface.
//
// Prefer binding to localhost; the API has no authentication.
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8089"
}

// TaskConfig declares one task scheduled at startup.
//
// Kinds:
//   - "log"  : writes message through the logger
//   - "exec" : runs command (argv form) with an optional timeout
//   - "unit" : systemd unit action over D-Bus (start, stop, restart, check)
type TaskConfig struct {
	Name    string   `json:"name"`
	Mode    string   `json:"mode"` // see scheduler.ParseMode
	Kind    string   `json:"kind"`
	Message string   `json:"message,omitempty"`
	Command []string `json:"command,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
	Unit    string   `json:"unit,omitempty"`   // "nginx" or "nginx.service"
	Action  string   `json:"action,omitempty"` // unit kind; default "check"
}
