package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	logx "bgsched/pkg/logx"
)

// ErrUnitUnsupported is returned by unit tasks on hosts without systemd.
var ErrUnitUnsupported = errors.New("systemd units not supported on this platform")

var unitSuffixes = map[string]bool{
	".service": true, ".socket": true, ".timer": true, ".target": true,
	".mount": true, ".path": true, ".slice": true, ".scope": true,
}

// UnitName appends ".service" unless unit already names a unit type.
func UnitName(unit string) string {
	unit = strings.TrimSpace(unit)
	if unitSuffixes[filepath.Ext(unit)] {
		return unit
	}
	return unit + ".service"
}

// UnitTask drives a systemd unit over D-Bus. start, stop and restart wait
// for the queued job to finish; check fails when the unit is missing or in
// the failed state.
type UnitTask struct {
	name    string
	unit    string
	action  string
	timeout time.Duration
	log     logx.Logger
}

func (t *UnitTask) Name() string { return t.name }

func (t *UnitTask) Execute(ctx context.Context) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.run(ctx)
}
