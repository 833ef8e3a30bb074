// Package app assembles the daemon: configuration, logging, storage,
// the Matrix client, the check registry, the job scheduler, the
// heartbeat and the ops server, wired the same way in every
// deployment. Construction is network-free; anything that talks to
// the world starts in Start.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"vigil/internal/agent"
	"vigil/internal/alert"
	"vigil/internal/checks"
	"vigil/internal/config"
	"vigil/internal/eventbus"
	"vigil/internal/heartbeat"
	"vigil/internal/matrix"
	"vigil/internal/ops"
	"vigil/internal/runtime/supervisor"
	"vigil/internal/schedule"
	"vigil/internal/scheduler"
	"vigil/internal/storage"
	logx "vigil/pkg/logx"
)

type App struct {
	cfg  *config.Config
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	bus    *eventbus.Bus
	store  storage.Store
	mx     *matrix.Client // nil unless the messages check or matrix alerts are on
	runner *agent.Runner

	sched *scheduler.Service
	beats *heartbeat.Service
	ops   *ops.Server

	mu  sync.Mutex
	sup *supervisor.Supervisor
}

// New loads and validates the config, then builds every component.
// Config errors here are the only fatal ones; after Start the daemon
// degrades instead of exiting.
func New(cfgPath string) (*App, error) {
	a := &App{}

	a.cfgm = config.NewManager(cfgPath)
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	location, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	hours, err := cfg.ActiveHours.Hours()
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.logs = logs
	a.log = root.With(logx.String("comp", "app"))
	a.cfgm.SetLogger(root.With(logx.String("comp", "config")))

	// Validated at load time; a parse error here means a missed field in
	// Validate, so fall back loudly instead of dying.
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := config.ParseDurationOrDefault(path, raw, def)
		if err != nil {
			a.log.Warn("invalid duration in config, using default",
				logx.String("field", path), logx.Duration("default", def), logx.Err(err))
			return def
		}
		return d
	}

	a.bus = eventbus.New()

	if cfg.Storage != nil {
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: dur("storage.busy_timeout", cfg.Storage.BusyTimeout, 0),
		}, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
	}

	if *cfg.Checks.Messages.Enabled || cfg.Alert.Driver == "matrix" {
		mx, err := matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			AccessToken: cfg.Matrix.AccessToken,
			UserID:      cfg.Matrix.UserID,
		}, root.With(logx.String("comp", "matrix")))
		if err != nil {
			return nil, fmt.Errorf("matrix client: %w", err)
		}
		a.mx = mx
	}

	runner, err := agent.New(agent.Config{
		Command: cfg.Agent.Command,
		Args:    cfg.Agent.Args,
		Dir:     cfg.Agent.Dir,
		Env:     cfg.Agent.Env,
	}, root.With(logx.String("comp", "agent")))
	if err != nil {
		return nil, fmt.Errorf("agent runner: %w", err)
	}
	a.runner = runner

	var sink heartbeat.AlertSink
	switch cfg.Alert.Driver {
	case "matrix":
		sink = alert.Limit(
			alert.NewMatrix(a.mx, cfg.Heartbeat.AlertChannel),
			dur("alert.rate_every", cfg.Alert.RateEvery, 10*time.Minute),
			cfg.Alert.RateBurst,
			root.With(logx.String("comp", "alert")),
		)
	case "telegram":
		tg, err := alert.NewTelegram(cfg.Alert.Telegram.Token, cfg.Alert.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("telegram sink: %w", err)
		}
		sink = alert.Limit(
			tg,
			dur("alert.rate_every", cfg.Alert.RateEvery, 10*time.Minute),
			cfg.Alert.RateBurst,
			root.With(logx.String("comp", "alert")),
		)
	}

	checksLog := root.With(logx.String("comp", "checks"))
	registry := checks.NewRegistry(checksLog)
	if *cfg.Checks.Messages.Enabled {
		registry.Register(checks.NewMessages(
			newRoomSource(a.mx, cfg.Checks.Messages.Limit, root.With(logx.String("comp", "matrix"))),
			checks.NewFileWatermarks(cfg.Checks.Messages.StatePath),
			checks.MessagesConfig{
				IgnoreSenders:   cfg.Checks.Messages.IgnoreSenders,
				PrioritySenders: cfg.Heartbeat.PrioritySenders,
				SelfID:          cfg.Matrix.UserID,
			},
			checksLog,
		))
	}
	if *cfg.Checks.Infra.Enabled {
		registry.Register(checks.NewInfra(checks.InfraConfig{
			Services:         cfg.Checks.Infra.Services,
			DiskPath:         cfg.Checks.Infra.DiskPath,
			DiskThresholdPct: cfg.Checks.Infra.DiskThresholdPct,
			ProbeTimeout:     dur("checks.infra.probe_timeout", cfg.Checks.Infra.ProbeTimeout, 5*time.Second),
		}, checksLog))
	}
	if cfg.Checks.Bandwidth.Enabled {
		registry.Register(
			checks.NewBandwidth(checks.BandwidthConfig{
				MinDownloadMbps: cfg.Checks.Bandwidth.MinDownloadMbps,
			}, checksLog),
			checks.WithPace(6),
			checks.WithTimeout(dur("checks.bandwidth.timeout", cfg.Checks.Bandwidth.Timeout, 2*time.Minute)),
		)
	}

	a.sched = scheduler.New(
		scheduler.Config{Hours: hours, Location: location},
		schedule.NewStore(cfg.Schedule.Path, root.With(logx.String("comp", "schedule"))),
		a.runner,
		a.bus,
		a.store,
		root.With(logx.String("comp", "scheduler")),
	)

	a.beats = heartbeat.New(heartbeat.Config{
		Interval:     time.Duration(cfg.Heartbeat.IntervalMinutes) * time.Minute,
		HistorySize:  cfg.Heartbeat.History,
		WakeDebounce: dur("heartbeat.wake_debounce", cfg.Heartbeat.WakeDebounce, time.Minute),
		Hours:        hours,
		Location:     location,
	}, registry, sink, a.runner.Wake, a.bus, a.store, root.With(logx.String("comp", "heartbeat")))

	a.ops = ops.New(ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          cfg.Ops.Addr,
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
		ReadTimeout:   dur("ops.read_timeout", cfg.Ops.ReadTimeout, 5*time.Second),
		WriteTimeout:  dur("ops.write_timeout", cfg.Ops.WriteTimeout, 0),
		IdleTimeout:   dur("ops.idle_timeout", cfg.Ops.IdleTimeout, time.Minute),
	}, a.sched, a.beats, root.With(logx.String("comp", "ops")))

	return a, nil
}

// Start brings up the services honoring autostart flags, then arms the
// background plumbing: bus event logger, config watch + hot reload,
// systemd readiness and watchdog.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return nil
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.sup = sup
	a.mu.Unlock()

	// A down homeserver must not block boot; the session check is a
	// warning, not a gate.
	if a.mx != nil {
		whoCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		who, err := a.mx.WhoAmI(whoCtx)
		cancel()
		switch {
		case err != nil:
			a.log.Warn("matrix session check failed", logx.Err(err))
		case who != a.cfg.Matrix.UserID:
			a.log.Warn("matrix token belongs to a different user",
				logx.String("configured", a.cfg.Matrix.UserID), logx.String("actual", who))
		}
	}

	if *a.cfg.Schedule.Autostart {
		if err := a.sched.Start(ctx); err != nil {
			return err
		}
	}
	if *a.cfg.Heartbeat.Autostart {
		a.beats.Start(ctx)
	}
	if err := a.ops.Start(ctx); err != nil {
		return err
	}

	events, unsubscribe := a.bus.Subscribe(64)
	sup.Go("bus.log", func(c context.Context) error {
		defer unsubscribe()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts, keeping only the newest snapshot.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeChange(last, next)
				last = next
				if len(sections) == 0 {
					a.log.Debug("config reloaded, no effective change")
					continue
				}

				// Only logging applies live; the rest of the tree is
				// wired at construction time.
				a.logs.Apply(logx.Config{
					Level:   next.Logging.Level,
					Console: next.Logging.Console,
					File: logx.FileConfig{
						Enabled: next.Logging.File.Enabled,
						Path:    next.Logging.File.Path,
					},
				})
				a.log.Info("config reloaded",
					append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

				var restart []string
				for _, sec := range sections {
					if sec != "logging" {
						restart = append(restart, sec)
					}
				}
				if len(restart) > 0 {
					a.log.Warn("config change needs a restart to take effect",
						logx.String("sections", strings.Join(restart, ",")))
				}
			}
		}
	})

	sup.Go("config.watch", a.cfgm.Watch)

	a.notifyReady(sup)
	a.log.Info("vigil started",
		logx.Bool("scheduler", *a.cfg.Schedule.Autostart),
		logx.Bool("heartbeat", *a.cfg.Heartbeat.Autostart),
		logx.Bool("ops", a.cfg.Ops.Enabled),
	)
	return nil
}

// Stop unwinds in dependency order: consumers of the agent first, the
// audit store last. Each step is bounded so one stuck component cannot
// stall the whole shutdown.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	a.notifyStopping()
	a.log.Info("stopping")
	sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step failed", logx.String("step", name), logx.Err(err))
				return
			}
			a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached, moving on",
				logx.String("step", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("heartbeat", 5*time.Second, func(c context.Context) error { a.beats.Stop(c); return nil })
	step("ops", 3*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("supervisor", 2*time.Second, sup.Wait)

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}
