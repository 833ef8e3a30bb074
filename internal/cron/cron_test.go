package cron

import (
	"strings"
	"testing"
	"time"
)

// 2025-06-09 is a Monday.
func stamp(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04:05", value)
	if err != nil {
		t.Fatalf("bad test stamp %q: %v", value, err)
	}
	return ts
}

func TestMatches(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		expr string
		at   string
		want bool
	}{
		{name: "wildcard matches any minute", expr: "* * * * *", at: "2025-06-09 13:37:00", want: true},
		{name: "weekday nine sharp", expr: "0 9 * * 1-5", at: "2025-06-09 09:00:59", want: true},
		{name: "weekday nine oh one", expr: "0 9 * * 1-5", at: "2025-06-09 09:01:00", want: false},
		{name: "saturday nine sharp", expr: "0 9 * * 1-5", at: "2025-06-14 09:00:00", want: false},
		{name: "list of hours hit", expr: "30 8,12,18 * * *", at: "2025-06-09 12:30:00", want: true},
		{name: "list of hours miss", expr: "30 8,12,18 * * *", at: "2025-06-09 13:30:00", want: false},
		{name: "stepped range inside", expr: "10-30/5 * * * *", at: "2025-06-09 10:25:00", want: true},
		{name: "stepped range off-step", expr: "10-30/5 * * * *", at: "2025-06-09 10:26:00", want: false},
		{name: "month gate", expr: "0 0 1 1 *", at: "2025-01-01 00:00:00", want: true},
		{name: "month gate miss", expr: "0 0 1 1 *", at: "2025-02-01 00:00:00", want: false},
		// dom AND dow: 2025-06-13 is a Friday the 13th, 2025-06-20 is a
		// Friday but not the 13th, 2025-07-13 is a Sunday the 13th.
		{name: "friday the 13th hits", expr: "0 0 13 * 5", at: "2025-06-13 00:00:00", want: true},
		{name: "plain friday misses", expr: "0 0 13 * 5", at: "2025-06-20 00:00:00", want: false},
		{name: "plain 13th misses", expr: "0 0 13 * 5", at: "2025-07-13 00:00:00", want: false},
		{name: "sunday is zero", expr: "0 12 * * 0", at: "2025-06-08 12:00:00", want: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.expr, err)
			}
			if got := e.Matches(stamp(t, tt.at)); got != tt.want {
				t.Fatalf("Matches(%s) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestStepMinutes(t *testing.T) {
	t.Parallel()
	e, err := Parse("*/15 * * * *")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	for m := 0; m < 60; m++ {
		at := time.Date(2025, 6, 9, 10, m, 0, 0, time.UTC)
		want := m%15 == 0
		if got := e.Matches(at); got != want {
			t.Fatalf("minute %d: Matches = %v, want %v", m, got, want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		expr string
		frag string
	}{
		{name: "too few fields", expr: "* * * *", frag: "5 fields"},
		{name: "too many fields", expr: "* * * * * *", frag: "5 fields"},
		{name: "minute out of range", expr: "70 * * * *", frag: "minute"},
		{name: "hour out of range", expr: "0 24 * * *", frag: "hour"},
		{name: "dom zero", expr: "0 0 0 * *", frag: "day-of-month"},
		{name: "month thirteen", expr: "0 0 1 13 *", frag: "month"},
		{name: "dow seven", expr: "0 0 * * 7", frag: "day-of-week"},
		{name: "month name", expr: "0 0 1 JAN *", frag: "month"},
		{name: "dow name", expr: "0 0 * * MON", frag: "day-of-week"},
		{name: "reversed range", expr: "30-10 * * * *", frag: "reversed range"},
		{name: "step zero", expr: "*/0 * * * *", frag: "step"},
		{name: "step on single value", expr: "5/2 * * * *", frag: "step requires a range"},
		{name: "empty list element", expr: "1,,2 * * * *", frag: "empty list element"},
		{name: "garbage", expr: "a b c d e", frag: "minute"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expr)
			if err == nil {
				t.Fatalf("Parse(%q) expected error", tt.expr)
			}
			if !strings.Contains(err.Error(), tt.frag) {
				t.Fatalf("error %q does not mention %q", err, tt.frag)
			}
		})
	}
}

func TestPackageLevelHelpers(t *testing.T) {
	t.Parallel()
	at := stamp(t, "2025-06-09 09:00:00")
	if !Matches("0 9 * * 1", at) {
		t.Fatal("Matches should hit Monday 09:00")
	}
	if Matches("not a cron", at) {
		t.Fatal("Matches must be false on parse error")
	}
	if err := Validate("*/15 * * * *"); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if err := Validate("70 * * * *"); err == nil {
		t.Fatal("Validate expected error for minute 70")
	}
}
