package heartbeat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/checks"
	"vigil/internal/config"
	"vigil/internal/eventbus"
	"vigil/internal/storage"
	logx "vigil/pkg/logx"
)

const alertTimeout = 30 * time.Second

// Config tunes the heartbeat loop.
type Config struct {
	// Interval between beats (default 15m).
	Interval time.Duration
	// HistorySize bounds the in-memory beat ring (default 100).
	HistorySize int
	// WakeDebounce suppresses repeated wake callbacks (default 60s).
	WakeDebounce time.Duration
	// Hours gates scheduled beats; nil means always active.
	Hours *config.Hours
	// Location is the wall-clock zone for the hours gate.
	Location *time.Location
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.WakeDebounce <= 0 {
		c.WakeDebounce = time.Minute
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// Service owns the beat timer, counter and history. One beat runs at
// a time; a timer firing while the previous beat is mid-flight is
// skipped outright.
type Service struct {
	cfg      Config
	registry *checks.Registry
	alert    AlertSink
	wake     WakeFunc
	bus      *eventbus.Bus
	store    storage.Store
	log      logx.Logger

	// beatMu serializes beat execution (scheduled and RunNow).
	beatMu sync.Mutex
	seq    atomic.Uint64

	executed     atomic.Uint64
	skippedBusy  atomic.Uint64
	skippedHours atomic.Uint64
	urgentCount  atomic.Uint64

	histMu  sync.Mutex
	history []Beat

	wakeMu   sync.Mutex
	lastWake time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New wires the service. alert, wake, bus and store may each be nil;
// the corresponding step is skipped.
func New(cfg Config, registry *checks.Registry, alert AlertSink, wake WakeFunc, bus *eventbus.Bus, store storage.Store, log logx.Logger) *Service {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		registry: registry,
		alert:    alert,
		wake:     wake,
		bus:      bus,
		store:    store,
		log:      log,
	}
}

// Start begins the timer. The first beat fires one full interval
// after start, never immediately.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running = true
	s.mu.Unlock()

	s.log.Info("heartbeat started",
		logx.Duration("interval", s.cfg.Interval),
		logx.Bool("active_hours", s.cfg.Hours != nil),
	)
	go s.loop(runCtx, done)
}

// Stop halts the timer and waits for a mid-flight beat, up to ctx.
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
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.scheduledBeat(ctx)
		}
	}
}

func (s *Service) scheduledBeat(ctx context.Context) {
	if !s.beatMu.TryLock() {
		s.skippedBusy.Add(1)
		s.log.Debug("beat skipped, previous beat still running")
		return
	}
	defer s.beatMu.Unlock()

	now := time.Now().In(s.cfg.Location)
	if s.cfg.Hours != nil && !s.cfg.Hours.Contains(now) {
		s.skippedHours.Add(1)
		s.log.Debug("beat skipped outside active hours", logx.String("window", s.cfg.Hours.String()))
		return
	}
	s.executeBeat(ctx, now)
}

// RunNow executes an out-of-band beat and returns it synchronously.
// It bypasses the active-hours gate but still serializes with a
// mid-flight scheduled beat.
func (s *Service) RunNow(ctx context.Context) (Beat, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return Beat{}, err
	}
	s.beatMu.Lock()
	defer s.beatMu.Unlock()
	return s.executeBeat(ctx, time.Now().In(s.cfg.Location)), nil
}

// executeBeat must be called with beatMu held. An orchestration panic
// degrades to a synthetic urgent beat so the operator still hears
// about it.
func (s *Service) executeBeat(ctx context.Context, now time.Time) Beat {
	seq := s.seq.Add(1)
	start := time.Now()

	var beat Beat
	func() {
		defer func() {
			if v := recover(); v != nil {
				s.log.Error("beat orchestration panicked",
					logx.Uint64("seq", seq),
					logx.Any("panic", v),
				)
				beat = Beat{
					Seq:      seq,
					Tier:     tierFor(seq),
					OK:       false,
					Urgent:   true,
					Briefing: fmt.Sprintf("Heartbeat %d broke internally: %v", seq, v),
					At:       now,
					Took:     time.Since(start),
				}
			}
		}()
		results := s.registry.Run(ctx, seq)
		beat = s.assemble(seq, now, results)
		beat.Took = time.Since(start)
	}()

	s.finish(ctx, beat)
	return beat
}

func (s *Service) assemble(seq uint64, now time.Time, results []checks.Result) Beat {
	beat := Beat{
		Seq:    seq,
		Tier:   tierFor(seq),
		OK:     true,
		Checks: results,
		At:     now,
	}

	var priority []checks.PriorityMessage
	for _, res := range results {
		if p, ok := res.Data[checks.DataPriority].([]checks.PriorityMessage); ok {
			priority = append(priority, p...)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Heartbeat %d (%s)", seq, beat.Tier)
	for _, p := range priority {
		fmt.Fprintf(&b, "\nPriority message from %s in %s: %s", p.Sender, p.Source, p.Preview)
	}
	for _, res := range results {
		if res.OK {
			continue
		}
		beat.OK = false
		beat.Failed = append(beat.Failed, res.Name)
		if res.Name == "infra" {
			fmt.Fprintf(&b, "\nInfra: %s", res.Message)
		} else {
			fmt.Fprintf(&b, "\n%s failed: %s", res.Name, res.Message)
		}
	}
	if len(priority) == 0 && beat.OK {
		fmt.Fprintf(&b, "\nAll %d checks passed.", len(results))
	}

	beat.Briefing = b.String()
	beat.Urgent = len(priority) > 0 || !beat.OK
	return beat
}

// finish folds the beat into history, publishes it, audits it and
// escalates if urgent. Never fails the beat.
func (s *Service) finish(ctx context.Context, beat Beat) {
	s.executed.Add(1)
	if beat.Urgent {
		s.urgentCount.Add(1)
	}

	s.histMu.Lock()
	s.history = append(s.history, beat)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.histMu.Unlock()

	s.log.Info("beat completed",
		logx.Uint64("seq", beat.Seq),
		logx.String("tier", string(beat.Tier)),
		logx.Bool("ok", beat.OK),
		logx.Bool("urgent", beat.Urgent),
		logx.Duration("took", beat.Took),
	)

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeBeatCompleted, Time: beat.At, Data: beat})
	}
	if s.store != nil {
		actx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := s.store.AppendBeat(actx, storage.BeatRecord{
			Seq:      beat.Seq,
			Tier:     string(beat.Tier),
			OK:       beat.OK,
			Urgent:   beat.Urgent,
			Failed:   beat.Failed,
			Briefing: beat.Briefing,
			At:       beat.At,
			TookMS:   beat.Took.Milliseconds(),
		})
		cancel()
		if err != nil {
			s.log.Debug("beat audit failed", logx.Err(err))
		}
	}

	if beat.Urgent {
		s.escalate(beat)
	}
}

// escalate notifies the alert sink and, unless debounced, invokes the
// wake callback. Both are fire-and-forget.
func (s *Service) escalate(beat Beat) {
	if s.alert != nil {
		go func() {
			actx, cancel := context.WithTimeout(context.Background(), alertTimeout)
			defer cancel()
			if err := s.alert.Notify(actx, beat.Briefing); err != nil {
				s.log.Warn("urgent alert failed", logx.Uint64("seq", beat.Seq), logx.Err(err))
			}
		}()
	}

	if s.wake == nil {
		return
	}
	now := time.Now()
	s.wakeMu.Lock()
	if !s.lastWake.IsZero() && now.Sub(s.lastWake) < s.cfg.WakeDebounce {
		s.wakeMu.Unlock()
		s.log.Debug("wake debounced", logx.Uint64("seq", beat.Seq))
		return
	}
	s.lastWake = now
	s.wakeMu.Unlock()

	go func() {
		wctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		if err := s.wake(wctx, beat.Briefing); err != nil {
			s.log.Warn("wake failed", logx.Uint64("seq", beat.Seq), logx.Err(err))
		}
	}()
}

// History returns executed beats, oldest first.
func (s *Service) History() []Beat {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	return append([]Beat(nil), s.history...)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	snap := Snapshot{
		Running:      running,
		Seq:          s.seq.Load(),
		Executed:     s.executed.Load(),
		SkippedBusy:  s.skippedBusy.Load(),
		SkippedHours: s.skippedHours.Load(),
		Urgent:       s.urgentCount.Load(),
		Interval:     s.cfg.Interval,
	}
	s.histMu.Lock()
	if n := len(s.history); n > 0 {
		last := s.history[n-1]
		snap.LastBeat = &last
	}
	s.histMu.Unlock()
	return snap
}
