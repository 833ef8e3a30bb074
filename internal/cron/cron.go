// Package cron implements a minimal five-field cron matcher.
//
// Supported per field: "*", single values, "a-b" ranges, comma lists,
// and "/n" steps on "*" or ranges. Month and weekday names are not
// supported, Sunday is 0 only (7 is out of range), and a restricted
// day-of-month AND a restricted day-of-week must both match (no POSIX
// OR special case).
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expr is a parsed cron expression. One bit per admissible value.
type Expr struct {
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64
}

type fieldSpec struct {
	name string
	min  int
	max  int
}

var fieldSpecs = [5]fieldSpec{
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day-of-month", min: 1, max: 31},
	{name: "month", min: 1, max: 12},
	{name: "day-of-week", min: 0, max: 6},
}

// Parse parses a five-field cron expression (minute hour day-of-month
// month day-of-week). Errors name the offending field.
func Parse(expr string) (Expr, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Expr{}, fmt.Errorf("cron %q: expected 5 fields, got %d", strings.TrimSpace(expr), len(fields))
	}

	var masks [5]uint64
	for i, f := range fields {
		m, err := parseField(fieldSpecs[i], f)
		if err != nil {
			return Expr{}, err
		}
		masks[i] = m
	}
	return Expr{
		minute: masks[0],
		hour:   masks[1],
		dom:    masks[2],
		month:  masks[3],
		dow:    masks[4],
	}, nil
}

// Matches reports whether t falls on the expression. All five fields
// must match (strict AND); seconds are ignored, so a match holds for
// the whole minute.
func (e Expr) Matches(t time.Time) bool {
	return e.minute&bit(t.Minute()) != 0 &&
		e.hour&bit(t.Hour()) != 0 &&
		e.dom&bit(t.Day()) != 0 &&
		e.month&bit(int(t.Month())) != 0 &&
		e.dow&bit(int(t.Weekday())) != 0
}

// Matches is a convenience wrapper: false on parse error, never panics.
func Matches(expr string, t time.Time) bool {
	e, err := Parse(expr)
	if err != nil {
		return false
	}
	return e.Matches(t)
}

// Validate reports whether expr parses.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

func bit(v int) uint64 { return 1 << uint(v) }

func parseField(spec fieldSpec, field string) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return 0, fmt.Errorf("%s: empty list element in %q", spec.name, field)
		}
		m, err := parsePart(spec, part)
		if err != nil {
			return 0, err
		}
		mask |= m
	}
	return mask, nil
}

// parsePart handles one comma-separated element: "*", "*/n", "a", "a-b", "a-b/n".
func parsePart(spec fieldSpec, part string) (uint64, error) {
	base, stepStr, hasStep := strings.Cut(part, "/")

	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepStr)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid step %q", spec.name, part)
		}
		if n < 1 {
			return 0, fmt.Errorf("%s: step must be >= 1 in %q", spec.name, part)
		}
		step = n
	}

	lo, hi := spec.min, spec.max
	switch {
	case base == "*":
		// full range
	case strings.Contains(base, "-"):
		loStr, hiStr, _ := strings.Cut(base, "-")
		var err error
		lo, err = parseValue(spec, loStr)
		if err != nil {
			return 0, err
		}
		hi, err = parseValue(spec, hiStr)
		if err != nil {
			return 0, err
		}
		if lo > hi {
			return 0, fmt.Errorf("%s: reversed range %q", spec.name, base)
		}
	default:
		v, err := parseValue(spec, base)
		if err != nil {
			return 0, err
		}
		if hasStep {
			// "5/2" is ambiguous in the wild; only * and ranges take steps here.
			return 0, fmt.Errorf("%s: step requires a range in %q", spec.name, part)
		}
		lo, hi = v, v
	}

	var mask uint64
	for v := lo; v <= hi; v += step {
		mask |= bit(v)
	}
	return mask, nil
}

func parseValue(spec fieldSpec, s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid value %q (names are not supported)", spec.name, s)
	}
	if v < spec.min || v > spec.max {
		return 0, fmt.Errorf("%s: value %d out of range %d-%d", spec.name, v, spec.min, spec.max)
	}
	return v, nil
}
