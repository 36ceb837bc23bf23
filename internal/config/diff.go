package config

import (
	"reflect"
	"strings"

	logx "bgsched/pkg/logx"
)

// Sections that can change between reloads.
const (
	SectionLogging  = "logging"
	SectionExecutor = "executor"
	SectionBackend  = "backend"
	SectionStorage  = "storage"
	SectionAdmin    = "admin"
	SectionTasks    = "tasks"
)

// SummarizeChange returns the changed sections and compact log fields
// describing the new values.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Executor != newCfg.Executor {
		changed = append(changed, SectionExecutor)
		attrs = append(attrs, logx.String("executor.signal", newCfg.Executor.SignalKind()))
	}
	if oldCfg.Backend != newCfg.Backend {
		changed = append(changed, SectionBackend)
		attrs = append(attrs, logx.String("backend.kind", newCfg.Backend.BackendKind()))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, SectionStorage)
		driver := ""
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}
	if oldCfg.Admin != newCfg.Admin {
		changed = append(changed, SectionAdmin)
		attrs = append(attrs, logx.Bool("admin.enabled", newCfg.Admin.Enabled), logx.String("admin.addr", newCfg.Admin.ListenAddr()))
	}
	if !reflect.DeepEqual(oldCfg.Tasks, newCfg.Tasks) {
		changed = append(changed, SectionTasks)
		attrs = append(attrs, logx.Int("tasks", len(newCfg.Tasks)))
	}
	return changed, attrs
}

// HotReloadable reports whether every changed section can be applied without
// a restart. Only logging is applied live; the engine keeps its startup wiring.
func HotReloadable(changed []string) bool {
	for _, s := range changed {
		if s != SectionLogging {
			return false
		}
	}
	return true
}
