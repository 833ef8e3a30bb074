// Package schedule persists the human-editable job file and parses it
// into job records. The file is the single source of truth; every
// mutation rewrites it atomically so the scheduler's watcher never
// observes a torn write.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"vigil/internal/cron"
)

const (
	DefaultChannel = "general"
	DefaultTimeout = 15 * time.Minute
)

var (
	ErrDuplicate = errors.New("schedule: job name already exists")
	ErrNotFound  = errors.New("schedule: job not found")
)

// Job is one scheduled unit of agent work.
type Job struct {
	Name string
	// Expr is a five-field cron expression (see internal/cron).
	Expr string
	// Task is the opaque instruction text handed to the executor.
	Task     string
	Channel  string
	Timeout  time.Duration
	Disabled bool
}

// Normalize returns the job with zero-value fields set to their defaults.
func (j Job) Normalize() Job {
	if strings.TrimSpace(j.Channel) == "" {
		j.Channel = DefaultChannel
	}
	if j.Timeout <= 0 {
		j.Timeout = DefaultTimeout
	}
	return j
}

// Validate reports whether the job can be stored and later re-parsed
// from the line format without changing meaning.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("job: name is required")
	}
	if strings.ContainsAny(j.Name, " \t\n") {
		return fmt.Errorf("job %q: name must be a single token", j.Name)
	}
	if err := cron.Validate(j.Expr); err != nil {
		return fmt.Errorf("job %q: %w", j.Name, err)
	}
	task := strings.TrimSpace(j.Task)
	if task == "" {
		return fmt.Errorf("job %q: task text is required", j.Name)
	}
	if strings.Contains(j.Task, "\n") {
		return fmt.Errorf("job %q: task must be a single line", j.Name)
	}
	// A task whose first word reads as a flag would be eaten by the
	// parser on the way back in.
	if first := strings.Fields(task)[0]; isFlagToken(first) {
		return fmt.Errorf("job %q: task must not start with a flag token (%s)", j.Name, first)
	}
	if strings.ContainsAny(j.Channel, " \t\n") {
		return fmt.Errorf("job %q: channel must be a single token", j.Name)
	}
	if j.Timeout < 0 {
		return fmt.Errorf("job %q: timeout must be >= 0", j.Name)
	}
	if j.Timeout%time.Minute != 0 {
		return fmt.Errorf("job %q: timeout must be whole minutes", j.Name)
	}
	return nil
}
