package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalYAML = `
logging: {level: info, console: true}
schedule:
  path: /tmp/schedule.crontab
matrix:
  homeserver: https://matrix.example.org
  access_token: secret
  user_id: "@vigil:example.org"
agent:
  command: pi
  args: [run]
alert:
  driver: none
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "vigil.yaml", minimalYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if got := derefBool(cfg.Schedule.Autostart, false); !got {
		t.Fatalf("Schedule.Autostart = %v, want true default", got)
	}
	if cfg.Heartbeat.IntervalMinutes != 15 {
		t.Fatalf("Heartbeat.IntervalMinutes = %d, want 15", cfg.Heartbeat.IntervalMinutes)
	}
	if cfg.Heartbeat.History != 100 {
		t.Fatalf("Heartbeat.History = %d, want 100", cfg.Heartbeat.History)
	}
	if cfg.Checks.Messages.Limit != 40 {
		t.Fatalf("Checks.Messages.Limit = %d, want 40", cfg.Checks.Messages.Limit)
	}
	if cfg.Checks.Infra.DiskThresholdPct != 85 {
		t.Fatalf("Checks.Infra.DiskThresholdPct = %d, want 85", cfg.Checks.Infra.DiskThresholdPct)
	}
	if cfg.Checks.Infra.DiskPath != "/" {
		t.Fatalf("Checks.Infra.DiskPath = %q, want /", cfg.Checks.Infra.DiskPath)
	}
	if cfg.Alert.Driver != "none" {
		t.Fatalf("Alert.Driver = %q, want none", cfg.Alert.Driver)
	}
	if cfg.Alert.RateBurst != 2 {
		t.Fatalf("Alert.RateBurst = %d, want 2", cfg.Alert.RateBurst)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() should return the committed config")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "vigil.yaml", minimalYAML+"\nsurprise: true\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(c *Config)
		frag   string
	}{
		{
			name:   "schedule path required",
			mutate: func(c *Config) { c.Schedule.Path = "" },
			frag:   "schedule.path",
		},
		{
			name:   "agent command required",
			mutate: func(c *Config) { c.Agent.Command = "" },
			frag:   "agent.command",
		},
		{
			name: "matrix required for messages check",
			mutate: func(c *Config) {
				c.Matrix = MatrixConfig{}
			},
			frag: "matrix.homeserver",
		},
		{
			name: "matrix alert needs channel",
			mutate: func(c *Config) {
				c.Alert.Driver = "matrix"
				c.Heartbeat.AlertChannel = ""
			},
			frag: "heartbeat.alert_channel",
		},
		{
			name:   "unknown alert driver",
			mutate: func(c *Config) { c.Alert.Driver = "pigeon" },
			frag:   "alert.driver",
		},
		{
			name:   "bad timezone",
			mutate: func(c *Config) { c.Timezone = "Mars/Olympus" },
			frag:   "timezone",
		},
		{
			name: "bad active hours",
			mutate: func(c *Config) {
				c.ActiveHours = &HoursConfig{Start: "8am", End: "22:00"}
			},
			frag: "active_hours",
		},
		{
			name:   "bad wake debounce",
			mutate: func(c *Config) { c.Heartbeat.WakeDebounce = "soon" },
			frag:   "wake_debounce",
		},
		{
			name: "sqlite needs path",
			mutate: func(c *Config) {
				c.Storage = &StorageConfig{Driver: "sqlite"}
			},
			frag: "storage.path",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(writeConfig(t, "vigil.yaml", minimalYAML))
			cfg, err := m.Parse()
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.frag) {
				t.Fatalf("error %q does not mention %q", err, tt.frag)
			}
		})
	}
}

func TestLoadJSONConfig(t *testing.T) {
	t.Parallel()
	body := `{
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
  "schedule": {"path": "/tmp/s.crontab", "autostart": false},
  "checks": {"messages": {"enabled": false}, "infra": {"enabled": false}},
  "agent": {"command": "pi"},
  "alert": {"driver": "none"},
  "matrix": {"homeserver": "", "access_token": "", "user_id": ""}
}`
	m := NewManager(writeConfig(t, "vigil.json", body))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if derefBool(cfg.Schedule.Autostart, true) {
		t.Fatal("Schedule.Autostart should stay explicitly false")
	}
	if derefBool(cfg.Checks.Messages.Enabled, true) {
		t.Fatal("Checks.Messages.Enabled should stay explicitly false")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "vigil.yaml", minimalYAML))
	oldCfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	newCfg := *oldCfg
	newCfg.Logging.Level = "debug"
	newCfg.Ops = OpsConfig{Enabled: true, Addr: "127.0.0.1:6565"}

	changed, _ := SummarizeChange(oldCfg, &newCfg)
	want := map[string]bool{"logging": true, "ops": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want sections %v", changed, want)
	}
	for _, s := range changed {
		if !want[s] {
			t.Fatalf("unexpected changed section %q", s)
		}
	}
}
