package signal

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Timer fires on a fixed wall-clock cadence, independent of any task interval.
// Trigger still works for out-of-band wakes.
type Timer struct {
	*Manual
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTimer fires every d. With repeat=false it fires once, after d, and then
// only on Trigger.
func NewTimer(d time.Duration, repeat bool) *Timer {
	if d <= 0 {
		d = time.Second
	}
	t := &Timer{Manual: NewManual(1), stop: make(chan struct{})}
	go t.run(d, repeat)
	return t
}

func (t *Timer) run(d time.Duration, repeat bool) {
	if !repeat {
		tm := time.NewTimer(d)
		defer tm.Stop()
		select {
		case <-t.stop:
		case <-tm.C:
			t.Trigger()
		}
		return
	}
	tk := time.NewTicker(d)
	defer tk.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-tk.C:
			t.Trigger()
		}
	}
}

func (t *Timer) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.Manual.Close()
}

// Cron fires according to a cron expression.
type Cron struct {
	*Manual
	c *cron.Cron
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewCron accepts 5 or 6 field expressions ("*/5 * * * *", "*/10 * * * * *"),
// descriptors ("@hourly") and "@every 30s". A nil loc means time.Local.
func NewCron(spec string, loc *time.Location) (*Cron, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Cron{Manual: NewManual(1)}
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(loc))
	if _, err := s.c.AddFunc(spec, s.Trigger); err != nil {
		return nil, err
	}
	s.c.Start()
	return s, nil
}

// Next returns the next scheduled wake.
func (s *Cron) Next() time.Time {
	entries := s.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Cron) Close() {
	<-s.c.Stop().Done()
	s.Manual.Close()
}
