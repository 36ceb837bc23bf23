package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"bgsched/internal/runtime/supervisor"
	logx "bgsched/pkg/logx"
)

// FileTrigger runs one tick whenever a wake file is written or created.
// Anything able to touch a file (cron, a systemd path unit, another process)
// can wake the engine this way.
//
// Events arriving while a tick runs are coalesced into at most one follow-up tick.
type FileTrigger struct {
	path string
	hook hook
}

// A broken watcher is recreated at most maxWatchRestarts times; after that
// the trigger gives up and only logs.
const (
	maxWatchRestarts = 8
	watchBackoff     = 500 * time.Millisecond
)

func NewFileTrigger(path string, log logx.Logger) *FileTrigger {
	return &FileTrigger{path: path, hook: hook{log: log}}
}

func (f *FileTrigger) Register(t Target) error {
	if strings.TrimSpace(f.path) == "" {
		return errors.New("file trigger: path required")
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("file trigger: %w", err)
	}
	err := f.hook.start(t, "backend.file", f.watch,
		supervisor.WithRestartBackoff(watchBackoff, 0), supervisor.WithMaxRestarts(maxWatchRestarts))
	if err != nil {
		return err
	}
	f.hook.log.Info("file trigger registered", logx.String("path", f.path))
	return nil
}

func (f *FileTrigger) Unregister() error { return f.hook.stop() }

// watch returns an error when the watcher breaks so the supervisor recreates it.
func (f *FileTrigger) watch(ctx context.Context, t Target) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(f.path)
	base := filepath.Base(f.path)
	if err := w.Add(dir); err != nil {
		return err
	}

	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case <-wake:
				if err := t.JustNext(ctx); err != nil {
					f.hook.log.Warn("file trigger tick failed", logx.Any("err", err))
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("file trigger: watcher closed")
			}
			if filepath.Base(ev.Name) != base || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			f.hook.log.Debug("wake file touched", logx.String("op", ev.Op.String()))
			select {
			case wake <- struct{}{}:
			default:
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("file trigger: watcher closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				f.hook.log.Warn("file trigger overflow; ticking once", logx.Any("err", err))
				select {
				case wake <- struct{}{}:
				default:
				}
				continue
			}
			f.hook.log.Warn("file trigger watch error", logx.Any("err", err))
		}
	}
}
