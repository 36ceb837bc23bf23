// Package backend contains wake-up mechanisms that drive an executor from
// outside its own signal loop.
//
// A backend is handed a Target on Register. When the backend gets its turn
// it calls Target.JustNext (one tick) and may Pause the target if the turn is
// taken away before the tick finished. Unregister releases the hook.
package backend

import (
	"context"
	"errors"
	"sync"

	"bgsched/internal/runtime/supervisor"
	logx "bgsched/pkg/logx"
)

var (
	ErrUnsupported   = errors.New("backend not supported on this host")
	ErrRegistered    = errors.New("backend already registered")
	ErrNotRegistered = errors.New("backend not registered")
)

// Target is the narrow executor surface a backend may call.
type Target interface {
	JustNext(ctx context.Context) error
	Pause()
}

type Backend interface {
	Register(t Target) error
	Unregister() error
}

// hook holds the registration shared by every backend: the target and the
// supervisor running the backend's goroutines.
type hook struct {
	mu  sync.Mutex
	log logx.Logger
	sup *supervisor.Supervisor
	t   Target
}

func (h *hook) start(t Target, name string, fn func(ctx context.Context, t Target) error, opts ...supervisor.RestartOption) error {
	if t == nil {
		return errors.New("backend: nil target")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sup != nil {
		return ErrRegistered
	}
	h.t = t
	h.sup = supervisor.New(context.Background(), supervisor.WithLogger(h.log))
	h.sup.GoRestart(name, func(ctx context.Context) error { return fn(ctx, t) }, opts...)
	return nil
}

func (h *hook) stop() error {
	h.mu.Lock()
	sup := h.sup
	h.sup = nil
	h.t = nil
	h.mu.Unlock()
	if sup == nil {
		return ErrNotRegistered
	}
	sup.Cancel()
	<-sup.Done()
	return nil
}
