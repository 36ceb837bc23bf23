//go:build linux

package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"

	"bgsched/internal/config"
	logx "bgsched/pkg/logx"
)

func (t *UnitTask) run(ctx context.Context) error {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	if t.action == config.UnitCheck {
		return t.check(ctx, conn)
	}

	done := make(chan string, 1)
	switch t.action {
	case config.UnitStart:
		_, err = conn.StartUnitContext(ctx, t.unit, "replace", done)
	case config.UnitStop:
		_, err = conn.StopUnitContext(ctx, t.unit, "replace", done)
	case config.UnitRestart:
		_, err = conn.RestartUnitContext(ctx, t.unit, "replace", done)
	default:
		return fmt.Errorf("unknown unit action %q", t.action)
	}
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", t.action, t.unit, err)
	}

	select {
	case res := <-done:
		// systemd job results: done, canceled, timeout, failed, dependency, skipped
		if res != "done" {
			return fmt.Errorf("%s %s: job %s", t.action, t.unit, res)
		}
		t.log.Debug("unit job done", logx.String("unit", t.unit), logx.String("action", t.action))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s %s: %w", t.action, t.unit, ctx.Err())
	}
}

func (t *UnitTask) check(ctx context.Context, conn *dbus.Conn) error {
	props, err := conn.GetUnitPropertiesContext(ctx, t.unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return fmt.Errorf("unit %s not found", t.unit)
		}
		return fmt.Errorf("failed to get status for %s: %w", t.unit, err)
	}
	load, _ := props["LoadState"].(string)
	active, _ := props["ActiveState"].(string)
	sub, _ := props["SubState"].(string)
	if load == "not-found" {
		return fmt.Errorf("unit %s not found", t.unit)
	}
	if active == "failed" {
		return fmt.Errorf("unit %s failed (%s)", t.unit, sub)
	}
	t.log.Debug("unit status", logx.String("unit", t.unit), logx.String("active", active), logx.String("sub", sub))
	return nil
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	// systemd returns org.freedesktop.systemd1.NoSuchUnit for missing units.
	return strings.Contains(err.Error(), "NoSuchUnit")
}
