// Package agent spawns isolated agent turns: one external process per
// task, fed the task text as its final argument.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"vigil/internal/scheduler"
	logx "vigil/pkg/logx"
)

// wakeTimeout bounds the agent turn triggered by a heartbeat wake.
const wakeTimeout = 10 * time.Minute

// Config describes how to spawn a turn.
type Config struct {
	Command string
	Args    []string
	Dir     string
	// Env entries are appended to the daemon's environment.
	Env []string
}

// Runner implements scheduler.Executor by exec-ing the configured
// command. Argv is Command + Args + ["--channel", <ch>] + task.
type Runner struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Runner, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("agent: command is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{cfg: cfg, log: log}, nil
}

// Execute runs one turn and captures its output. A non-zero exit is
// returned in the result with a nil error; an error means the process
// could not run or was killed by the deadline.
func (r *Runner) Execute(ctx context.Context, req scheduler.ExecRequest) (scheduler.ExecResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := make([]string, 0, len(r.cfg.Args)+3)
	args = append(args, r.cfg.Args...)
	if req.Channel != "" {
		args = append(args, "--channel", req.Channel)
	}
	args = append(args, req.Task)

	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	cmd.Dir = r.cfg.Dir
	if len(r.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), r.cfg.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	took := time.Since(start)

	res := scheduler.ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			res.ExitCode = -1
			err = fmt.Errorf("agent: %s: %w", req.Job, ctx.Err())
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
			err = nil
		default:
			res.ExitCode = -1
			err = fmt.Errorf("agent: %s: %w", req.Job, err)
		}
	}

	r.log.Debug("agent turn finished",
		logx.String("job", req.Job),
		logx.Int("exit_code", res.ExitCode),
		logx.Duration("took", took),
		logx.Err(err),
	)
	return res, err
}

// Wake runs an immediate turn feeding the heartbeat briefing as the
// prompt. Used as the heartbeat's wake callback.
func (r *Runner) Wake(ctx context.Context, briefing string) error {
	res, err := r.Execute(ctx, scheduler.ExecRequest{
		Job:     "wake",
		Task:    briefing,
		Timeout: wakeTimeout,
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("agent: wake exited %d: %s", res.ExitCode, snippet(res.Stderr, 200))
	}
	return nil
}

func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
