package scheduler

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownJob is returned by RunNow for names not in the schedule.
	ErrUnknownJob = errors.New("scheduler: unknown job")
	// ErrAlreadyRunning is returned by RunNow when the job is in flight.
	ErrAlreadyRunning = errors.New("scheduler: job already running")
)

// ExecRequest is one task handed to the executor.
type ExecRequest struct {
	// Job is the schedule entry name, for logging and audit.
	Job     string
	Task    string
	Channel string
	// Timeout bounds the whole turn. Zero means no per-run bound.
	Timeout time.Duration
}

// ExecResult is what the executed command produced. A non-zero exit
// is reported here, not as an error; errors mean the command could
// not run or did not finish.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs one task to completion.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// Outcome classifies a finished run.
type Outcome string

const (
	// OutcomeSuccess: exit code 0.
	OutcomeSuccess Outcome = "success"
	// OutcomeDegraded: non-zero exit but the command still produced
	// output, so the turn at least partially ran.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeFailure: the command could not run, timed out, or exited
	// non-zero with nothing on stdout.
	OutcomeFailure Outcome = "failure"
)

// RunEvent is the payload for job.started and job.finished bus events.
// Outcome, ExitCode, Err and Took are only set on job.finished.
type RunEvent struct {
	ID       string        `json:"id"`
	Job      string        `json:"job"`
	Channel  string        `json:"channel"`
	Task     string        `json:"task"`
	Manual   bool          `json:"manual,omitempty"`
	Outcome  Outcome       `json:"outcome,omitempty"`
	ExitCode int           `json:"exit_code,omitempty"`
	Err      string        `json:"err,omitempty"`
	Started  time.Time     `json:"started"`
	Took     time.Duration `json:"took,omitempty"`
}
