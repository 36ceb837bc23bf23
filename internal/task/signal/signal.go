// Package signal provides wake-event sources for the executor loop.
//
// A Signal only says "now would be a good time to tick". Events carry no
// payload, are never de-duplicated, and may be dropped when a consumer lags;
// pending work stays queued in the scheduler, so a dropped wake is harmless.
package signal

import (
	"sync"
	"sync/atomic"
)

type Signal interface {
	// Events yields one value per wake. It is closed by Close.
	Events() <-chan struct{}
	// Trigger requests a wake. It never blocks and is a no-op after Close.
	Trigger()
	Close()
}

// Manual is a signal fired by explicit Trigger calls.
type Manual struct {
	mu      sync.RWMutex
	ch      chan struct{}
	closed  bool
	dropped atomic.Uint64
}

// NewManual returns a manual signal buffering up to buffer pending wakes
// (minimum 1).
func NewManual(buffer int) *Manual {
	if buffer < 1 {
		buffer = 1
	}
	return &Manual{ch: make(chan struct{}, buffer)}
}

func (m *Manual) Events() <-chan struct{} { return m.ch }

func (m *Manual) Trigger() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.ch <- struct{}{}:
	default:
		m.dropped.Add(1)
	}
}

func (m *Manual) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}

// Dropped counts wakes discarded because the buffer was full.
func (m *Manual) Dropped() uint64 { return m.dropped.Load() }
