package signal

import (
	"errors"
	"time"

	"bgsched/internal/task/backend"
	logx "bgsched/pkg/logx"
)

// SystemFallback is the cadence of the timer that keeps a system-driven
// executor ticking when the platform backend is quiet.
const SystemFallback = 60 * time.Second

// BackendDriven registers t with b and returns a manual signal. The backend
// drives the target directly; the signal only carries explicit triggers.
func BackendDriven(b backend.Backend, t backend.Target) (Signal, error) {
	if b == nil {
		return nil, errors.New("signal: nil backend")
	}
	if err := b.Register(t); err != nil {
		return nil, err
	}
	return NewManual(1), nil
}

// SystemDriven returns a SystemFallback timer signal and registers t with the
// first candidate backend that accepts it (systemd watchdog when none are
// given). The chosen backend is returned so the caller can unregister it;
// it is nil when no backend is available and the timer alone drives t.
func SystemDriven(t backend.Target, log logx.Logger, candidates ...backend.Backend) (Signal, backend.Backend) {
	if len(candidates) == 0 {
		candidates = []backend.Backend{backend.NewWatchdog(log)}
	}
	sig := NewTimer(SystemFallback, true)
	for _, b := range candidates {
		if b == nil {
			continue
		}
		err := b.Register(t)
		if err == nil {
			return sig, b
		}
		if !errors.Is(err, backend.ErrUnsupported) {
			log.Warn("platform backend register failed", logx.Any("err", err))
		}
	}
	log.Info("no platform backend available; using timer fallback", logx.Duration("every", SystemFallback))
	return sig, nil
}
