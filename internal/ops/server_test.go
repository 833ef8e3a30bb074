package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vigil/internal/checks"
	"vigil/internal/heartbeat"
	"vigil/internal/schedule"
	"vigil/internal/scheduler"
	logx "vigil/pkg/logx"
)

type okCheck struct{}

func (okCheck) Name() string { return "calm" }

func (okCheck) Run(ctx context.Context) checks.Result {
	return checks.Result{Name: "calm", OK: true, Message: "fine"}
}

type nopExec struct{}

func (nopExec) Execute(ctx context.Context, req scheduler.ExecRequest) (scheduler.ExecResult, error) {
	return scheduler.ExecResult{}, nil
}

// newFixture starts a scheduler with one never-firing job, a quiet
// heartbeat and the ops server on an ephemeral loopback port.
func newFixture(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "schedule.txt")
	line := "0 0 31 2 *  ping  check the boards\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		t.Fatalf("write schedule: %v", err)
	}
	store := schedule.NewStore(path, logx.Nop())
	sched := scheduler.New(scheduler.Config{TickInterval: time.Hour}, store, nopExec{}, nil, nil, logx.Nop())
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}
	t.Cleanup(func() { sched.Stop(context.Background()) })

	reg := checks.NewRegistry(logx.Nop())
	reg.Register(okCheck{})
	beats := heartbeat.New(heartbeat.Config{}, reg, nil, nil, nil, nil, logx.Nop())

	cfg.Enabled = true
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	srv := New(cfg, sched, beats, logx.Nop())
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("ops start: %v", err)
	}
	t.Cleanup(func() { srv.Stop(context.Background()) })

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr = srv.Addr(); addr != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("ops server did not bind")
	}
	return srv, "http://" + addr
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	_, base := newFixture(t, Config{})

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q, want 200 ok", resp.StatusCode, body)
	}
}

func TestStatusz(t *testing.T) {
	t.Parallel()
	_, base := newFixture(t, Config{})

	resp, err := http.Get(base + "/statusz")
	if err != nil {
		t.Fatalf("GET /statusz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("statusz status = %d, want 200", resp.StatusCode)
	}

	var got statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode statusz: %v", err)
	}
	if got.Scheduler.Jobs != 1 {
		t.Errorf("scheduler.jobs = %d, want 1", got.Scheduler.Jobs)
	}
	if len(got.Jobs) != 1 || got.Jobs[0].Name != "ping" {
		t.Errorf("jobs = %+v, want the ping job", got.Jobs)
	}
	if got.Heartbeat.Running {
		t.Error("heartbeat.running = true, want false (not started)")
	}
	if got.Uptime == "" {
		t.Error("uptime missing")
	}
}

func TestRunJobEndpoint(t *testing.T) {
	t.Parallel()
	_, base := newFixture(t, Config{})

	resp, err := http.Post(base+"/jobs/run?name=ping", "", nil)
	if err != nil {
		t.Fatalf("POST /jobs/run: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("run status = %d, want 202", resp.StatusCode)
	}

	resp, err = http.Post(base+"/jobs/run?name=ghost", "", nil)
	if err != nil {
		t.Fatalf("POST unknown job: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown job status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(base + "/jobs/run?name=ping")
	if err != nil {
		t.Fatalf("GET /jobs/run: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", resp.StatusCode)
	}
}

func TestRunBeatEndpoint(t *testing.T) {
	t.Parallel()
	_, base := newFixture(t, Config{})

	resp, err := http.Post(base+"/beat/run", "", nil)
	if err != nil {
		t.Fatalf("POST /beat/run: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("beat status = %d, want 200", resp.StatusCode)
	}

	var beat heartbeat.Beat
	if err := json.NewDecoder(resp.Body).Decode(&beat); err != nil {
		t.Fatalf("decode beat: %v", err)
	}
	if beat.Seq != 1 || !beat.OK {
		t.Fatalf("beat = seq %d ok %v, want seq 1 ok", beat.Seq, beat.OK)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	_, base := newFixture(t, Config{Token: "hunter2"})

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET without token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no-token status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/healthz", nil)
	req.Header.Set("Authorization", "Bearer hunter2")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with bearer: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(base + "/healthz?token=hunter2")
	if err != nil {
		t.Fatalf("GET with query token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query token status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(base + "/healthz?token=wrong")
	if err != nil {
		t.Fatalf("GET with wrong token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", resp.StatusCode)
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	t.Parallel()

	srv := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, nil, logx.Nop())
	if err := srv.Start(context.Background()); err == nil {
		srv.Stop(context.Background())
		t.Fatal("Start = nil, want refusal for tokenless non-loopback bind")
	}
}

func TestDisabledServerDoesNotBind(t *testing.T) {
	t.Parallel()

	srv := New(Config{Enabled: false}, nil, nil, logx.Nop())
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if got := srv.Addr(); got != "" {
		t.Fatalf("Addr = %q, want empty for disabled server", got)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6565", true},
		{"localhost:6565", true},
		{"[::1]:6565", true},
		{"0.0.0.0:6565", false},
		{"192.168.1.10:6565", false},
		{":6565", false},
		{"no-port", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.addr, func(t *testing.T) {
			t.Parallel()
			if got := isLoopbackAddr(tt.addr); got != tt.want {
				t.Fatalf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}
