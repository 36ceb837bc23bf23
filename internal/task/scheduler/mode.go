package scheduler

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ModeKind is the timing policy of a scheduled task.
type ModeKind int

const (
	ModeImmediate ModeKind = iota
	ModeDelayed
	ModePeriodic
)

func (k ModeKind) String() string {
	switch k {
	case ModeImmediate:
		return "immediate"
	case ModeDelayed:
		return "delayed"
	case ModePeriodic:
		return "periodic"
	default:
		return fmt.Sprintf("ModeKind(%d)", int(k))
	}
}

// Mode selects the bucket a task lands in.
//
// Every is the delay for ModeDelayed and the interval for ModePeriodic; it is
// ignored for ModeImmediate.
type Mode struct {
	Kind  ModeKind
	Every time.Duration
}

func Immediate() Mode               { return Mode{Kind: ModeImmediate} }
func Delayed(d time.Duration) Mode  { return Mode{Kind: ModeDelayed, Every: d} }
func Periodic(i time.Duration) Mode { return Mode{Kind: ModePeriodic, Every: i} }

func (m Mode) String() string {
	if m.Kind == ModeImmediate {
		return m.Kind.String()
	}
	return m.Kind.String() + ":" + m.Every.String()
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

var modePrefixes = []struct {
	prefix string
	kind   ModeKind
}{
	{"delayed:", ModeDelayed},
	{"delay:", ModeDelayed},
	{"after:", ModeDelayed},
	{"in ", ModeDelayed},
	{"periodic:", ModePeriodic},
	{"every:", ModePeriodic},
	{"interval:", ModePeriodic},
	{"@every ", ModePeriodic},
}

// ParseMode parses a mode string.
//
// Supported forms:
//   - "immediate", "now"
//   - delayed: "delayed:30s", "delay:30s", "after:00:05", "in 2m"
//   - periodic: "periodic:5m", "every:5m", "interval:02:30", "@every 1h"
//   - bare duration or HH:MM ("55m", "00:50") is read as periodic
//
// Durations are Go durations ("2h30m") or HH:MM ("02:30" = 2h30m).
// Delays may be zero; intervals must be > 0.
func ParseMode(raw string) (Mode, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Mode{}, fmt.Errorf("mode required")
	}
	low := strings.ToLower(s)
	if low == "immediate" || low == "now" {
		return Immediate(), nil
	}

	for _, p := range modePrefixes {
		if !strings.HasPrefix(low, p.prefix) {
			continue
		}
		v := strings.TrimSpace(s[len(p.prefix):])
		d, err := parseModeDuration(v, p.kind == ModeDelayed)
		if err != nil {
			return Mode{}, fmt.Errorf("%s mode: %w", p.kind, err)
		}
		return Mode{Kind: p.kind, Every: d}, nil
	}

	if d, err := parseModeDuration(s, false); err == nil {
		return Periodic(d), nil
	}
	return Mode{}, fmt.Errorf(
		"invalid mode %q (use 'immediate', 'delayed:30s', 'periodic:5m', or HH:MM like 'every:02:30')",
		raw,
	)
}

func parseModeDuration(v string, allowZero bool) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("duration required")
	}
	var (
		d   time.Duration
		err error
	)
	if reHHMM.MatchString(v) {
		d, err = parseHHMMDuration(v)
	} else {
		d, err = time.ParseDuration(v)
		if err != nil {
			err = fmt.Errorf("invalid duration %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
		}
	}
	if err != nil {
		return 0, err
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("duration must be > 0, got %s", d)
	}
	return d, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	// hours up to 999, minutes 0..59
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}
