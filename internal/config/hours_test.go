package config

import (
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2025, 6, 10, hour, min, 30, 0, time.UTC)
}

func TestHoursContains(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		start string
		end   string
		t     time.Time
		want  bool
	}{
		{name: "inside plain window", start: "08:00", end: "22:00", t: at(12, 0), want: true},
		{name: "start edge inclusive", start: "08:00", end: "22:00", t: at(8, 0), want: true},
		{name: "end edge inclusive", start: "08:00", end: "22:00", t: at(22, 0), want: true},
		{name: "before window", start: "08:00", end: "22:00", t: at(7, 59), want: false},
		{name: "after window", start: "08:00", end: "22:00", t: at(22, 1), want: false},
		{name: "wraparound late evening", start: "22:00", end: "06:00", t: at(23, 30), want: true},
		{name: "wraparound early morning", start: "22:00", end: "06:00", t: at(5, 30), want: true},
		{name: "wraparound midday out", start: "22:00", end: "06:00", t: at(12, 0), want: false},
		{name: "equal bounds mean always", start: "09:00", end: "09:00", t: at(3, 14), want: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			h, err := ParseHours(tt.start, tt.end)
			if err != nil {
				t.Fatalf("ParseHours(%q, %q) error: %v", tt.start, tt.end, err)
			}
			if got := h.Contains(tt.t); got != tt.want {
				t.Fatalf("Contains(%02d:%02d) = %v, want %v", tt.t.Hour(), tt.t.Minute(), got, tt.want)
			}
		})
	}
}

func TestParseHoursInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		start string
		end   string
	}{
		{name: "missing colon", start: "0800", end: "22:00"},
		{name: "hour out of range", start: "24:00", end: "06:00"},
		{name: "minute out of range", start: "08:60", end: "22:00"},
		{name: "empty end", start: "08:00", end: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseHours(tt.start, tt.end); err == nil {
				t.Fatalf("ParseHours(%q, %q) expected error", tt.start, tt.end)
			}
		})
	}
}

func TestHoursConfigNil(t *testing.T) {
	t.Parallel()
	var hc *HoursConfig
	h, err := hc.Hours()
	if err != nil {
		t.Fatalf("Hours() error: %v", err)
	}
	if h != nil {
		t.Fatalf("Hours() = %v, want nil for absent window", h)
	}
}
