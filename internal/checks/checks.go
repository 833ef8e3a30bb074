// Package checks holds the awareness checks the heartbeat runs every
// beat, plus the registry that executes them.
//
// Checks are isolated: they run concurrently, each under its own
// timeout, and a panic inside one is converted into a failed result
// instead of taking down the beat.
package checks

import (
	"context"
	"fmt"
	"sync"
	"time"

	logx "vigil/pkg/logx"
)

// defaultTimeout bounds a single check unless registered with
// WithTimeout.
const defaultTimeout = 30 * time.Second

// Result is what one check produced on one beat.
type Result struct {
	Name    string         `json:"name"`
	OK      bool           `json:"ok"`
	Message string         `json:"message"`
	Took    time.Duration  `json:"took"`
	Data    map[string]any `json:"data,omitempty"`
}

// Check is a single awareness probe.
type Check interface {
	Name() string
	Run(ctx context.Context) Result
}

// Data keys shared between built-in checks and briefing assembly.
const (
	DataPriority = "priority" // []PriorityMessage
	DataNew      = "new"      // int
	DataSenders  = "senders"  // []string
	DataDown     = "down"     // []string
	DataDiskPct  = "disk_pct" // int
)

type entry struct {
	check   Check
	pace    uint64
	timeout time.Duration
}

// Option tunes one registration.
type Option func(*entry)

// WithPace runs the check only on beats where beat % n == 0. Pace 6
// means tide beats only.
func WithPace(n uint64) Option {
	return func(e *entry) {
		if n > 1 {
			e.pace = n
		}
	}
}

// WithTimeout overrides the per-check budget.
func WithTimeout(d time.Duration) Option {
	return func(e *entry) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// Registry runs registered checks concurrently and in isolation.
type Registry struct {
	mu      sync.Mutex
	entries []entry
	log     logx.Logger
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{log: log}
}

func (r *Registry) Register(c Check, opts ...Option) {
	e := entry{check: c, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&e)
	}
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

// Names lists registered checks in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.check.Name())
	}
	return out
}

// Run executes every check due at this beat and returns their results
// in registration order. Paced checks not due are absent from the
// slice, not reported as skipped.
func (r *Registry) Run(ctx context.Context, beat uint64) []Result {
	r.mu.Lock()
	entries := append([]entry(nil), r.entries...)
	r.mu.Unlock()

	due := make([]entry, 0, len(entries))
	for _, e := range entries {
		if e.pace > 1 && beat%e.pace != 0 {
			continue
		}
		due = append(due, e)
	}

	results := make([]Result, len(due))
	var wg sync.WaitGroup
	for i, e := range due {
		i, e := i, e
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.runOne(ctx, e)
		}()
	}
	wg.Wait()
	return results
}

// runOne waits for the check or its deadline, whichever comes first.
// A check that ignores its context is abandoned at the deadline so it
// cannot stall the beat.
func (r *Registry) runOne(ctx context.Context, e entry) Result {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				r.log.Error("check panicked",
					logx.String("check", e.check.Name()),
					logx.Any("panic", v),
				)
				done <- Result{
					Name:    e.check.Name(),
					OK:      false,
					Message: fmt.Sprintf("Exception: %v", v),
				}
			}
		}()
		done <- e.check.Run(cctx)
	}()

	var res Result
	select {
	case res = <-done:
	case <-cctx.Done():
		res = Result{
			Name:    e.check.Name(),
			OK:      false,
			Message: fmt.Sprintf("timed out after %s", e.timeout),
		}
	}
	if res.Name == "" {
		res.Name = e.check.Name()
	}
	if res.Took == 0 {
		res.Took = time.Since(start)
	}
	return res
}
