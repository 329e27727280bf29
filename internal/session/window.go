package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay bounds MinuteOfDay.
const MinutesPerDay = 24 * 60

// MinuteOfDay counts minutes since local midnight.
type MinuteOfDay int

// ParseMinuteOfDay parses "HH:MM" (24h clock). "24:00" is accepted as the
// end of day.
func ParseMinuteOfDay(s string) (MinuteOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("minute of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("minute of day %q: bad hour: %w", s, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("minute of day %q: bad minute: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("minute of day %q: out of range", s)
	}
	return MinuteOfDay(h*60 + m), nil
}

func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// Valid reports whether m lies in [0, 24:00].
func (m MinuteOfDay) Valid() bool {
	return m >= 0 && m <= MinutesPerDay
}

// MinuteOf returns the minute of day of t in t's location.
func MinuteOf(t time.Time) MinuteOfDay {
	return MinuteOfDay(t.Hour()*60 + t.Minute())
}

// Window is the half-open trading interval [Start, End). A window whose
// start is after its end wraps midnight; Start == End never opens.
type Window struct {
	Start    MinuteOfDay
	End      MinuteOfDay
	Location *time.Location
}

func (w Window) Validate() error {
	if !w.Start.Valid() || w.Start == MinutesPerDay {
		return fmt.Errorf("session start %d out of range", w.Start)
	}
	if !w.End.Valid() {
		return fmt.Errorf("session end %d out of range", w.End)
	}
	return nil
}

// Contains reports whether now falls inside the window.
func (w Window) Contains(now time.Time) bool {
	if w.Location != nil {
		now = now.In(w.Location)
	}
	m := MinuteOf(now)
	switch {
	case w.Start == w.End:
		return false
	case w.Start < w.End:
		return m >= w.Start && m < w.End
	default:
		return m >= w.Start || m < w.End
	}
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}
