package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"bgsched/internal/eventbus"
	"bgsched/internal/shared"
	logx "bgsched/pkg/logx"
)

// ID identifies one scheduled entry. Copies of a periodic entry pushed to the
// queue share its ID.
type ID string

func newID() ID { return ID(uuid.NewString()) }

type Option func(*Scheduler)

// WithClock replaces the wall clock (tests).
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

type entry struct {
	id   ID
	name string
	mode Mode
	task Task
}

type delayedEntry struct {
	entry
	due time.Time
}

type periodicEntry struct {
	entry
	lastFire time.Time
	fired    bool
}

// buckets is the scheduler state. It only ever changes inside the shared
// resource, so queue, timers and counters move together.
type buckets struct {
	queue    []entry
	delayed  []delayedEntry
	periodic []periodicEntry
	stats    Stats
}

// Stats are cumulative counters since New.
type Stats struct {
	Scheduled uint64 `json:"scheduled"`
	Ticks     uint64 `json:"ticks"`
	Executed  uint64 `json:"executed"`
	Failed    uint64 `json:"failed"`
	Promoted  uint64 `json:"promoted"`
}

type Scheduler struct {
	log   logx.Logger
	bus   eventbus.Bus
	clock Clock

	state *shared.Resource[*buckets]
}

func New(log logx.Logger, bus eventbus.Bus, opts ...Option) *Scheduler {
	s := &Scheduler{
		log:   log,
		bus:   bus,
		clock: systemClock{},
		state: shared.New(&buckets{}),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

func withBuckets[R any](s *Scheduler, fn func(b *buckets) R) R {
	return shared.Access(s.state, func(sl *shared.Slot[*buckets]) R {
		b, _ := sl.Get()
		return fn(b)
	})
}

// Schedule records t in the bucket implied by m. It never executes anything.
//
// Delayed entries are due at now+d; a non-positive delay is promoted on the
// next tick. Periodic entries fire on their first tick regardless of interval.
// A nil task is ignored and yields an empty ID.
func (s *Scheduler) Schedule(t Task, m Mode) ID {
	if t == nil {
		s.log.Warn("schedule ignored nil task", logx.String("mode", m.String()))
		return ""
	}
	e := entry{id: newID(), name: TaskName(t), mode: m, task: t}
	now := s.clock.Now()

	withBuckets(s, func(b *buckets) struct{} {
		switch m.Kind {
		case ModeDelayed:
			b.delayed = append(b.delayed, delayedEntry{entry: e, due: now.Add(m.Every)})
		case ModePeriodic:
			b.periodic = append(b.periodic, periodicEntry{entry: e})
		default:
			b.queue = append(b.queue, e)
		}
		b.stats.Scheduled++
		return struct{}{}
	})

	s.log.Debug("task scheduled", logx.String("task", e.name), logx.String("id", string(e.id)), logx.String("mode", m.String()))
	eventbus.Publish(s.bus, eventbus.TaskScheduled, TaskEvent{ID: e.id, Task: e.name, Mode: m})
	return e.id
}

// RunNext performs one tick: execute the queue front (if any), then promote
// due delayed entries, then fire due periodic entries.
//
// The executed task's error is returned wrapped in *TaskError. The entry was
// already dequeued, so a failure is never retried and promotion still runs.
// ctx is handed to the task body.
func (s *Scheduler) RunNext(ctx context.Context) error {
	next := withBuckets(s, func(b *buckets) *entry {
		b.stats.Ticks++
		if len(b.queue) == 0 {
			return nil
		}
		e := b.queue[0]
		b.queue[0] = entry{}
		b.queue = b.queue[1:]
		if len(b.queue) == 0 {
			b.queue = nil
		}
		return &e
	})

	var runErr error
	if next != nil {
		runErr = s.execute(ctx, *next)
	}

	now := s.clock.Now()
	promoted := withBuckets(s, func(b *buckets) []entry {
		if next != nil {
			b.stats.Executed++
			if runErr != nil {
				b.stats.Failed++
			}
		}
		out := b.promote(now)
		b.stats.Promoted += uint64(len(out))
		return out
	})

	for _, e := range promoted {
		s.log.Debug("task promoted", logx.String("task", e.name), logx.String("id", string(e.id)), logx.String("mode", e.mode.String()))
		eventbus.Publish(s.bus, eventbus.TaskPromoted, TaskEvent{ID: e.id, Task: e.name, Mode: e.mode})
	}
	return runErr
}

// promote moves due delayed entries to the queue (removing them) and pushes a
// copy of every due periodic entry, stamping its last fire with now.
func (b *buckets) promote(now time.Time) []entry {
	var out []entry

	if len(b.delayed) > 0 {
		keep := b.delayed[:0]
		for _, d := range b.delayed {
			if !d.due.After(now) {
				b.queue = append(b.queue, d.entry)
				out = append(out, d.entry)
				continue
			}
			keep = append(keep, d)
		}
		for i := len(keep); i < len(b.delayed); i++ {
			b.delayed[i] = delayedEntry{}
		}
		b.delayed = keep
	}

	for i := range b.periodic {
		p := &b.periodic[i]
		if p.fired && now.Sub(p.lastFire) < p.mode.Every {
			continue
		}
		p.lastFire = now
		p.fired = true
		b.queue = append(b.queue, p.entry)
		out = append(out, p.entry)
	}
	return out
}

func (s *Scheduler) execute(ctx context.Context, e entry) (err error) {
	start := s.clock.Now()
	eventbus.Publish(s.bus, eventbus.TaskStarted, TaskEvent{ID: e.id, Task: e.name, Mode: e.mode, Started: start})

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panic", logx.String("task", e.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		ev := TaskEvent{ID: e.id, Task: e.name, Mode: e.mode, Started: start, Duration: s.clock.Now().Sub(start)}
		if err != nil {
			err = &TaskError{Task: e.name, ID: e.id, Err: err}
			ev.Err = err
			eventbus.Publish(s.bus, eventbus.TaskFailed, ev)
			return
		}
		eventbus.Publish(s.bus, eventbus.TaskFinished, ev)
	}()

	return e.task.Execute(ctx)
}

// Snapshot is a point-in-time view of the buckets.
type Snapshot struct {
	Queued   int            `json:"queued"`
	Delayed  []DelayedInfo  `json:"delayed"`
	Periodic []PeriodicInfo `json:"periodic"`
	Stats    Stats          `json:"stats"`
}

type DelayedInfo struct {
	ID   ID        `json:"id"`
	Task string    `json:"task"`
	Due  time.Time `json:"due"`
}

type PeriodicInfo struct {
	ID       ID            `json:"id"`
	Task     string        `json:"task"`
	Every    time.Duration `json:"every"`
	LastFire time.Time     `json:"last_fire,omitempty"` // zero until the first fire
}

func (s *Scheduler) Snapshot() Snapshot {
	return withBuckets(s, func(b *buckets) Snapshot {
		snap := Snapshot{
			Queued:   len(b.queue),
			Delayed:  make([]DelayedInfo, 0, len(b.delayed)),
			Periodic: make([]PeriodicInfo, 0, len(b.periodic)),
			Stats:    b.stats,
		}
		for _, d := range b.delayed {
			snap.Delayed = append(snap.Delayed, DelayedInfo{ID: d.id, Task: d.name, Due: d.due})
		}
		for _, p := range b.periodic {
			snap.Periodic = append(snap.Periodic, PeriodicInfo{ID: p.id, Task: p.name, Every: p.mode.Every, LastFire: p.lastFire})
		}
		return snap
	})
}
