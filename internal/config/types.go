package config

type Config struct {
	// Timezone is an IANA zone name (e.g. "Europe/Berlin").
	// Empty means the system local zone. Both the job scheduler and the
	// heartbeat evaluate wall-clock time in this zone.
	Timezone string `json:"timezone,omitempty"`

	Logging LoggingConfig `json:"logging"`

	// ActiveHours gates both the job scheduler and the heartbeat.
	// Omitted (nil) means always active.
	ActiveHours *HoursConfig `json:"active_hours,omitempty"`

	Schedule  ScheduleConfig  `json:"schedule"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Checks    ChecksConfig    `json:"checks"`

	Matrix MatrixConfig `json:"matrix"`
	Agent  AgentConfig  `json:"agent"`
	Alert  AlertConfig  `json:"alert"`

	// Storage is the optional run/beat audit log. Nil means disabled.
	Storage *StorageConfig `json:"storage,omitempty"`

	Ops OpsConfig `json:"ops,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HoursConfig is the raw "HH:MM" window from the config file.
// End before Start spans midnight (e.g. 22:00-06:00).
type HoursConfig struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ScheduleConfig controls the job scheduler.
//
// Autostart is a pointer so we can distinguish "omitted" (default true)
// from an explicit false.
type ScheduleConfig struct {
	// Path is the crontab-style schedule file. Required when the
	// scheduler is enabled; the file itself may be absent at startup.
	Path      string `json:"path"`
	Autostart *bool  `json:"autostart,omitempty"`
}

// HeartbeatConfig controls the periodic awareness loop.
//
// All durations are Go duration strings (e.g. "30s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - autostart: true
//   - interval_minutes: 15
//   - history: 100
//   - wake_debounce: "1m"
type HeartbeatConfig struct {
	Autostart       *bool    `json:"autostart,omitempty"`
	IntervalMinutes int      `json:"interval_minutes,omitempty"`
	History         int      `json:"history,omitempty"`
	WakeDebounce    string   `json:"wake_debounce,omitempty"`
	AlertChannel    string   `json:"alert_channel,omitempty"`
	PrioritySenders []string `json:"priority_senders,omitempty"`
}

type ChecksConfig struct {
	Messages  MessagesCheckConfig  `json:"messages"`
	Infra     InfraCheckConfig     `json:"infra"`
	Bandwidth BandwidthCheckConfig `json:"bandwidth,omitempty"`
}

// MessagesCheckConfig controls the unread-messages check.
// Enabled defaults to true when omitted.
type MessagesCheckConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Limit caps how many recent events are fetched per room.
	Limit int `json:"limit,omitempty"`
	// IgnoreSenders are exact user IDs treated as non-human (bridges, bots).
	// The agent's own user is always ignored.
	IgnoreSenders []string `json:"ignore_senders,omitempty"`
	// StatePath is the JSON file holding per-room read watermarks.
	// Defaults to "watermarks.json" next to the schedule file.
	StatePath string `json:"state_path,omitempty"`
}

// InfraCheckConfig controls the infrastructure probes.
// Enabled defaults to true when omitted.
type InfraCheckConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Services maps a dependency name to a probe target: an http(s)
	// URL, or "unit:<name>" for a local systemd unit.
	Services map[string]string `json:"services,omitempty"`
	// DiskPath defaults to "/"; DiskThresholdPct defaults to 85.
	DiskPath         string `json:"disk_path,omitempty"`
	DiskThresholdPct int    `json:"disk_threshold_pct,omitempty"`
	// ProbeTimeout is a Go duration string (default "5s").
	ProbeTimeout string `json:"probe_timeout,omitempty"`
}

// BandwidthCheckConfig controls the optional speedtest check.
// It only runs on tide beats and is disabled by default.
type BandwidthCheckConfig struct {
	Enabled         bool    `json:"enabled"`
	MinDownloadMbps float64 `json:"min_download_mbps,omitempty"`
	// Timeout is a Go duration string (default "2m").
	Timeout string `json:"timeout,omitempty"`
}

type MatrixConfig struct {
	Homeserver  string `json:"homeserver"`
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
}

// AgentConfig describes how to spawn one agent turn.
// The task text is appended to Command+Args as the final argument.
type AgentConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// AlertConfig selects and tunes the urgent-alert sink.
//
// Driver is one of "matrix", "telegram", "none" (default "none").
// RateEvery/RateBurst feed the rate limiter wrapping the sink
// (defaults: one alert per 10m, burst 2).
type AlertConfig struct {
	Driver    string              `json:"driver,omitempty"`
	Telegram  TelegramAlertConfig `json:"telegram,omitempty"`
	RateEvery string              `json:"rate_every,omitempty"`
	RateBurst int                 `json:"rate_burst,omitempty"`
}

type TelegramAlertConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chat_id,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "/var/lib/vigil/vigil.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// OpsConfig controls the optional status + pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6565").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6565"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /debug/pprof/profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
