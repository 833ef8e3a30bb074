// Package scheduler turns the schedule file into dispatched agent runs.
//
// The loop ticks twice a minute and keys each pass off the wall-clock
// minute, so a tick landing anywhere inside a minute dispatches that
// minute's jobs exactly once. Runs are detached from the loop context:
// stopping the scheduler stops dispatching, in-flight runs finish on
// their own.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vigil/internal/config"
	"vigil/internal/cron"
	"vigil/internal/eventbus"
	"vigil/internal/schedule"
	"vigil/internal/storage"
	logx "vigil/pkg/logx"
)

const (
	defaultTickInterval = 30 * time.Second
	tickKeyLayout       = "2006-01-02T15:04"
	auditTimeout        = 2 * time.Second
)

// Config tunes the dispatch loop.
type Config struct {
	// TickInterval defaults to 30s; tests shorten it.
	TickInterval time.Duration
	// Hours gates dispatching; nil means always active.
	Hours *config.Hours
	// Location is the wall clock for cron matching and the hours gate.
	Location *time.Location
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// entry is one loaded job with its compiled expression. bad carries the
// cron parse error for jobs that loaded but cannot be matched; they stay
// listed (and manually runnable) but never fire on their own.
type entry struct {
	job  schedule.Job
	expr cron.Expr
	bad  string
}

// Service owns the tick loop, the loaded job set and the single-flight
// table. One run per job name at a time; a fire landing while the
// previous run is still going is skipped, not queued.
type Service struct {
	cfg   Config
	store *schedule.Store
	exec  Executor
	bus   *eventbus.Bus
	audit storage.Store
	log   logx.Logger

	jobsMu  sync.Mutex
	entries []entry
	lastKey string

	activeMu sync.Mutex
	active   map[string]bool

	// stale is set when a watch-triggered reload failed; the next tick
	// retries before matching.
	stale atomic.Bool

	total    atomic.Uint64
	success  atomic.Uint64
	degraded atomic.Uint64
	failed   atomic.Uint64
	skipped  atomic.Uint64
	reloads  atomic.Uint64

	inFlight sync.WaitGroup

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New wires the scheduler. bus and audit may be nil.
func New(cfg Config, store *schedule.Store, exec Executor, bus *eventbus.Bus, audit storage.Store, log logx.Logger) *Service {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		exec:   exec,
		bus:    bus,
		audit:  audit,
		log:    log,
		active: make(map[string]bool),
	}
}

// Start loads the schedule, runs one immediate pass and then ticks every
// TickInterval, watching the file for edits in between. An unreadable
// schedule at startup is fatal; reload failures after that are logged
// and retried.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running = true
	s.mu.Unlock()

	if err := s.reload(); err != nil {
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.done = nil
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("load schedule: %w", err)
	}

	s.log.Info("scheduler started",
		logx.String("schedule", s.store.Path()),
		logx.Duration("tick", s.cfg.TickInterval),
		logx.Bool("active_hours", s.cfg.Hours != nil),
	)
	go s.loop(runCtx, done)
	go s.watch(runCtx)
	return nil
}

// Stop halts dispatching. In-flight runs are not cancelled; Stop waits
// for them to drain, up to ctx.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}

	idle := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		s.log.Warn("stopping with jobs still in flight")
	}
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// First pass right away so a job due this minute does not wait out
	// a full tick.
	s.tick(time.Now().In(s.cfg.Location))

	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.tick(now.In(s.cfg.Location))
		}
	}
}

// tick runs one scheduling pass for the minute containing now. The
// minute key makes the pass idempotent: a second tick inside the same
// minute is a no-op. The key advances even outside active hours, so a
// minute slept through stays skipped instead of firing late.
//
// The key follows the wall clock: a backward clock jump can fire a
// minute twice and a forward jump can skip minutes. Known limitation.
func (s *Service) tick(now time.Time) {
	if s.stale.Load() {
		if err := s.reload(); err != nil {
			s.log.Warn("schedule reload still failing", logx.Err(err))
		} else {
			s.stale.Store(false)
		}
	}

	key := now.Format(tickKeyLayout)

	s.jobsMu.Lock()
	if key == s.lastKey {
		s.jobsMu.Unlock()
		return
	}
	s.lastKey = key
	entries := make([]entry, len(s.entries))
	copy(entries, s.entries)
	s.jobsMu.Unlock()

	if s.cfg.Hours != nil && !s.cfg.Hours.Contains(now) {
		return
	}

	for _, e := range entries {
		if e.job.Disabled || e.bad != "" {
			continue
		}
		if !e.expr.Matches(now) {
			continue
		}
		if !s.markActive(e.job.Name) {
			s.skipped.Add(1)
			s.log.Warn("job still running, skipping this fire", logx.String("job", e.job.Name))
			continue
		}
		s.launch(e.job, false)
	}
}

// RunNow dispatches the named job immediately, ignoring its expression,
// the disabled flag and active hours. The single-flight rule still
// holds.
func (s *Service) RunNow(name string) error {
	s.jobsMu.Lock()
	var job schedule.Job
	found := false
	for _, e := range s.entries {
		if e.job.Name == name {
			job = e.job
			found = true
			break
		}
	}
	s.jobsMu.Unlock()

	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !s.markActive(name) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	s.launch(job, true)
	return nil
}

// markActive reserves the job's single-flight slot. The goroutine that
// got true owns the run and must release via markIdle.
func (s *Service) markActive(name string) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if s.active[name] {
		return false
	}
	s.active[name] = true
	return true
}

func (s *Service) markIdle(name string) {
	s.activeMu.Lock()
	delete(s.active, name)
	s.activeMu.Unlock()
}

// launch dispatches one run. The caller holds the active slot; launch
// guarantees it is released no matter how the run ends.
func (s *Service) launch(job schedule.Job, manual bool) {
	ev := RunEvent{
		ID:      uuid.NewString(),
		Job:     job.Name,
		Channel: job.Channel,
		Task:    job.Task,
		Manual:  manual,
		Started: time.Now(),
	}
	s.total.Add(1)
	s.publish(eventbus.TypeJobStarted, ev)
	s.log.Info("job dispatched",
		logx.String("job", job.Name),
		logx.String("run_id", ev.ID),
		logx.Bool("manual", manual),
	)

	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		defer s.markIdle(job.Name)
		s.run(job, ev)
	}()
}

// run executes the job and records the outcome. A panicking executor is
// a failed run, not a crashed scheduler.
func (s *Service) run(job schedule.Job, ev RunEvent) {
	req := ExecRequest{
		Job:     job.Name,
		Task:    job.Task,
		Channel: job.Channel,
		Timeout: job.Timeout,
	}

	var (
		res ExecResult
		err error
	)
	func() {
		defer func() {
			if v := recover(); v != nil {
				res = ExecResult{ExitCode: -1}
				err = fmt.Errorf("executor panicked: %v", v)
			}
		}()
		res, err = s.exec.Execute(context.Background(), req)
	}()

	ev.Took = time.Since(ev.Started)
	ev.Outcome = classify(res, err)
	ev.ExitCode = res.ExitCode
	if err != nil {
		ev.Err = err.Error()
	}

	switch ev.Outcome {
	case OutcomeSuccess:
		s.success.Add(1)
		s.log.Info("job finished",
			logx.String("job", job.Name),
			logx.String("run_id", ev.ID),
			logx.Duration("took", ev.Took),
		)
	case OutcomeDegraded:
		s.degraded.Add(1)
		s.log.Warn("job finished degraded",
			logx.String("job", job.Name),
			logx.String("run_id", ev.ID),
			logx.Int("exit_code", res.ExitCode),
			logx.Duration("took", ev.Took),
		)
	default:
		s.failed.Add(1)
		s.log.Warn("job failed",
			logx.String("job", job.Name),
			logx.String("run_id", ev.ID),
			logx.Int("exit_code", res.ExitCode),
			logx.String("err", ev.Err),
			logx.Duration("took", ev.Took),
		)
	}

	s.publish(eventbus.TypeJobFinished, ev)
	s.record(ev)
}

// classify maps a finished run onto an outcome. Transport errors are
// failures outright. A non-zero exit that still wrote to stdout counts
// as degraded: the turn ran and said something, it just did not finish
// clean.
func classify(res ExecResult, err error) Outcome {
	if err != nil {
		return OutcomeFailure
	}
	if res.ExitCode == 0 {
		return OutcomeSuccess
	}
	if strings.TrimSpace(res.Stdout) != "" {
		return OutcomeDegraded
	}
	return OutcomeFailure
}

// reload re-reads the schedule file and swaps the job set. Expressions
// are compiled here so a bad one is reported once per reload instead of
// twice a minute.
func (s *Service) reload() error {
	jobs, err := s.store.Load()
	if err != nil {
		return err
	}
	entries := make([]entry, 0, len(jobs))
	invalid := 0
	for _, j := range jobs {
		e := entry{job: j.Normalize()}
		expr, err := cron.Parse(j.Expr)
		if err != nil {
			e.bad = err.Error()
			invalid++
			s.log.Warn("job expression invalid, job will not fire",
				logx.String("job", j.Name),
				logx.String("expr", j.Expr),
				logx.Err(err),
			)
		} else {
			e.expr = expr
		}
		entries = append(entries, e)
	}

	s.jobsMu.Lock()
	s.entries = entries
	s.jobsMu.Unlock()

	s.reloads.Add(1)
	s.log.Info("schedule loaded",
		logx.Int("jobs", len(entries)),
		logx.Int("invalid", invalid),
	)
	return nil
}

func (s *Service) publish(typ string, ev RunEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

// record appends the run to the audit store, best effort.
func (s *Service) record(ev RunEvent) {
	if s.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	err := s.audit.AppendRun(ctx, storage.RunRecord{
		ID:       ev.ID,
		Job:      ev.Job,
		Channel:  ev.Channel,
		Task:     ev.Task,
		Outcome:  string(ev.Outcome),
		ExitCode: ev.ExitCode,
		Error:    ev.Err,
		At:       ev.Started,
		TookMS:   ev.Took.Milliseconds(),
	})
	if err != nil {
		s.log.Debug("run audit failed", logx.String("run_id", ev.ID), logx.Err(err))
	}
}

// JobStatus is one schedule entry as the scheduler currently sees it.
type JobStatus struct {
	Name     string `json:"name"`
	Expr     string `json:"expr"`
	Task     string `json:"task"`
	Channel  string `json:"channel"`
	Timeout  string `json:"timeout"`
	Disabled bool   `json:"disabled,omitempty"`
	Invalid  string `json:"invalid,omitempty"`
	Running  bool   `json:"running,omitempty"`
}

// Jobs returns the loaded jobs in file order.
func (s *Service) Jobs() []JobStatus {
	s.jobsMu.Lock()
	entries := make([]entry, len(s.entries))
	copy(entries, s.entries)
	s.jobsMu.Unlock()

	out := make([]JobStatus, 0, len(entries))
	for _, e := range entries {
		s.activeMu.Lock()
		active := s.active[e.job.Name]
		s.activeMu.Unlock()
		out = append(out, JobStatus{
			Name:     e.job.Name,
			Expr:     e.job.Expr,
			Task:     e.job.Task,
			Channel:  e.job.Channel,
			Timeout:  e.job.Timeout.String(),
			Disabled: e.job.Disabled,
			Invalid:  e.bad,
			Running:  active,
		})
	}
	return out
}

// Snapshot is a point-in-time view of the dispatch counters.
type Snapshot struct {
	Running  bool     `json:"running"`
	Jobs     int      `json:"jobs"`
	Invalid  int      `json:"invalid"`
	Active   []string `json:"active,omitempty"`
	LastTick string   `json:"last_tick,omitempty"`
	Total    uint64   `json:"total"`
	Success  uint64   `json:"success"`
	Degraded uint64   `json:"degraded"`
	Failed   uint64   `json:"failed"`
	Skipped  uint64   `json:"skipped"`
	Reloads  uint64   `json:"reloads"`
}

func (s *Service) Snapshot() Snapshot {
	s.jobsMu.Lock()
	jobs := len(s.entries)
	invalid := 0
	for _, e := range s.entries {
		if e.bad != "" {
			invalid++
		}
	}
	lastKey := s.lastKey
	s.jobsMu.Unlock()

	s.activeMu.Lock()
	active := make([]string, 0, len(s.active))
	for name := range s.active {
		active = append(active, name)
	}
	s.activeMu.Unlock()
	sort.Strings(active)

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return Snapshot{
		Running:  running,
		Jobs:     jobs,
		Invalid:  invalid,
		Active:   active,
		LastTick: lastKey,
		Total:    s.total.Load(),
		Success:  s.success.Load(),
		Degraded: s.degraded.Load(),
		Failed:   s.failed.Load(),
		Skipped:  s.skipped.Load(),
		Reloads:  s.reloads.Load(),
	}
}
