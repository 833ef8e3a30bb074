package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Hours is a parsed daily active window in local wall-clock minutes.
//
// The window is inclusive on both ends at minute granularity. When End is
// earlier than Start the window spans midnight: 22:00-06:00 contains 23:30
// and 05:30 but not 12:00. Start == End means the whole day.
type Hours struct {
	start int // minutes since midnight
	end   int
}

// ParseHours parses "HH:MM" start/end strings into an Hours window.
func ParseHours(start, end string) (Hours, error) {
	s, err := parseClock(start)
	if err != nil {
		return Hours{}, fmt.Errorf("active_hours.start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return Hours{}, fmt.Errorf("active_hours.end: %w", err)
	}
	return Hours{start: s, end: e}, nil
}

// Hours converts the raw config block into a parsed window.
// A nil block means no gate; callers get (nil, nil).
func (h *HoursConfig) Hours() (*Hours, error) {
	if h == nil {
		return nil, nil
	}
	w, err := ParseHours(h.Start, h.End)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// Contains reports whether the wall-clock minute of t falls inside the
// window. The caller is expected to pass t already in the configured
// location; seconds are ignored.
func (h Hours) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if h.start == h.end {
		return true
	}
	if h.start < h.end {
		return m >= h.start && m <= h.end
	}
	// spans midnight
	return m >= h.start || m <= h.end
}

func (h Hours) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", h.start/60, h.start%60, h.end/60, h.end%60)
}
