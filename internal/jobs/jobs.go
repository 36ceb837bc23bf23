// Package jobs turns task declarations from the config file into scheduler tasks.
package jobs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"bgsched/internal/config"
	"bgsched/internal/task/scheduler"
	logx "bgsched/pkg/logx"
)

const maxOutput = 4 << 10

// Build returns the task and mode declared by tc.
func Build(tc config.TaskConfig, log logx.Logger) (scheduler.Task, scheduler.Mode, error) {
	mode, err := scheduler.ParseMode(tc.Mode)
	if err != nil {
		return nil, scheduler.Mode{}, fmt.Errorf("task %q: %w", tc.Name, err)
	}
	timeout, err := config.ParseDurationField("timeout", tc.Timeout)
	if err != nil {
		return nil, scheduler.Mode{}, fmt.Errorf("task %q: %w", tc.Name, err)
	}
	log = log.With(logx.String("task", tc.Name))

	switch strings.ToLower(strings.TrimSpace(tc.Kind)) {
	case config.TaskLog:
		return &LogTask{name: tc.Name, message: tc.Message, log: log}, mode, nil
	case config.TaskExec:
		if len(tc.Command) == 0 {
			return nil, scheduler.Mode{}, fmt.Errorf("task %q: command required", tc.Name)
		}
		return &ExecTask{
			name:    tc.Name,
			argv:    append([]string(nil), tc.Command...),
			dir:     tc.Dir,
			timeout: timeout,
			log:     log,
		}, mode, nil
	case config.TaskUnit:
		if strings.TrimSpace(tc.Unit) == "" {
			return nil, scheduler.Mode{}, fmt.Errorf("task %q: unit required", tc.Name)
		}
		return &UnitTask{
			name:    tc.Name,
			unit:    UnitName(tc.Unit),
			action:  tc.UnitAction(),
			timeout: timeout,
			log:     log,
		}, mode, nil
	default:
		return nil, scheduler.Mode{}, fmt.Errorf("task %q: unknown kind %q", tc.Name, tc.Kind)
	}
}

// LogTask writes a fixed message. Handy as a heartbeat.
type LogTask struct {
	name    string
	message string
	log     logx.Logger
}

func (t *LogTask) Name() string { return t.name }

func (t *LogTask) Execute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := t.message
	if strings.TrimSpace(msg) == "" {
		msg = "task ran"
	}
	t.log.Info(msg)
	return nil
}

// ExecTask runs an external command. Output is captured (truncated) and
// logged at debug level; a non-zero exit is the task error.
type ExecTask struct {
	name    string
	argv    []string
	dir     string
	timeout time.Duration
	log     logx.Logger
}

func (t *ExecTask) Name() string { return t.name }

func (t *ExecTask) Execute(ctx context.Context) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, t.argv[0], t.argv[1:]...)
	cmd.Dir = t.dir
	cmd.Stdout = &out
	cmd.Stderr = &out
	// Children holding the output pipe must not keep Run blocked after a kill.
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	dur := time.Since(start)

	output := out.String()
	if len(output) > maxOutput {
		output = output[:maxOutput] + "...(truncated)"
	}
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%s: %w", t.argv[0], ctx.Err())
		} else {
			err = fmt.Errorf("%s: %w", t.argv[0], err)
		}
		t.log.Debug("command failed", logx.Duration("dur", dur), logx.String("output", strings.TrimSpace(output)))
		return err
	}
	t.log.Debug("command finished", logx.Duration("dur", dur), logx.String("output", strings.TrimSpace(output)))
	return nil
}
