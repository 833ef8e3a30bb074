// Package ops serves the operator surface over HTTP: a status JSON
// document, manual run triggers and pprof. It binds to loopback by
// default; any other bind requires a token or an explicit insecure
// opt-in.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"vigil/internal/heartbeat"
	"vigil/internal/runtime/supervisor"
	"vigil/internal/scheduler"
	logx "vigil/pkg/logx"
)

const defaultAddr = "127.0.0.1:6565"

// Config controls the ops HTTP server.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	// WriteTimeout should stay 0 when pprof profiles are in use; a
	// 30s CPU profile outlives most sane write deadlines.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server exposes scheduler and heartbeat state and triggers.
type Server struct {
	cfg     Config
	sched   *scheduler.Service
	beats   *heartbeat.Service
	log     logx.Logger
	started time.Time

	mu      sync.Mutex
	running bool
	sup     *supervisor.Supervisor
	srv     *http.Server
	ln      net.Listener
}

func New(cfg Config, sched *scheduler.Service, beats *heartbeat.Service, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		cfg:   cfg,
		sched: sched,
		beats: beats,
		log:   log,
	}
}

// Start brings the server up under a restart loop so transient listen
// or serve failures self-heal. A non-loopback bind without a token is
// refused outright unless AllowInsecure is set.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Debug("ops server disabled")
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if !s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(s.cfg.Addr) {
		return fmt.Errorf("ops: refusing non-loopback bind %s without token or allow_insecure", s.cfg.Addr)
	}
	if s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(s.cfg.Addr) {
		s.log.Warn("ops server exposed without token", logx.String("addr", s.cfg.Addr))
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.started = time.Now()
	sup := supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup = sup
	s.mu.Unlock()

	sup.GoRestart("http.serve", s.serveOnce,
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		supervisor.WithPublishFirstError(true),
	)
	return nil
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	sup, srv := s.sup, s.srv
	s.sup = nil
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv != nil {
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
	}
	if sup != nil {
		_ = sup.Stop(ctx)
	}
	s.log.Info("ops server stopped")
}

// Addr returns the bound listen address, empty until serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) serveOnce(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:      s.handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		_ = ln.Close()
		return context.Canceled
	}
	s.srv = srv
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(cctx)
	}()

	s.log.Info("ops server listening",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""),
	)

	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
		s.ln = nil
	}
	stopping := !s.running
	s.mu.Unlock()

	if stopping || ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return context.Canceled
	}
	return err
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return s.withAuth(h) }

	mux.HandleFunc("/healthz", wrap(s.handleHealthz))
	mux.HandleFunc("/statusz", wrap(s.handleStatusz))
	mux.HandleFunc("/jobs/run", wrap(s.handleRunJob))
	mux.HandleFunc("/beat/run", wrap(s.handleRunBeat))

	mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup != nil {
		if err := sup.Err(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// recentBeats bounds the statusz payload; full history stays in memory.
const recentBeats = 5

type statusPayload struct {
	Started   time.Time             `json:"started"`
	Uptime    string                `json:"uptime"`
	Scheduler scheduler.Snapshot    `json:"scheduler"`
	Jobs      []scheduler.JobStatus `json:"jobs,omitempty"`
	Heartbeat heartbeat.Snapshot    `json:"heartbeat"`
	Beats     []heartbeat.Beat      `json:"recent_beats,omitempty"`
	Serve     supervisor.Counters   `json:"serve"`
}

func (s *Server) handleStatusz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sup := s.sup
	started := s.started
	s.mu.Unlock()

	hist := s.beats.History()
	if len(hist) > recentBeats {
		hist = hist[len(hist)-recentBeats:]
	}

	writeJSON(w, http.StatusOK, statusPayload{
		Started:   started,
		Uptime:    time.Since(started).Round(time.Second).String(),
		Scheduler: s.sched.Snapshot(),
		Jobs:      s.sched.Jobs(),
		Heartbeat: s.beats.Snapshot(),
		Beats:     hist,
		Serve:     sup.Counters(),
	})
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "use POST", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}

	err := s.sched.RunNow(name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		s.log.Info("manual job run requested", logx.String("job", name))
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched", "job": name})
	}
}

func (s *Server) handleRunBeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "use POST", http.StatusMethodNotAllowed)
		return
	}
	s.log.Info("manual beat requested")
	beat, err := s.beats.RunNow(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, beat)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// withAuth enforces the bearer token when one is configured. The token
// is also accepted as ?token= for curl convenience.
func (s *Server) withAuth(h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		if ah := r.Header.Get("Authorization"); ah != "" {
			const p = "Bearer "
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				h(w, r)
				return
			}
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// Empty host binds every interface.
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
