package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Validate normalizes the config in place (applying defaults) and rejects
// values the daemon cannot start with. It is the only place where config
// errors are fatal; everything after startup degrades instead.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.ActiveHours.Hours(); err != nil {
		return err
	}

	if c.Schedule.Autostart == nil {
		c.Schedule.Autostart = boolPtr(true)
	}
	if *c.Schedule.Autostart && strings.TrimSpace(c.Schedule.Path) == "" {
		return fmt.Errorf("schedule.path: required while schedule.autostart is true")
	}

	hb := &c.Heartbeat
	if hb.Autostart == nil {
		hb.Autostart = boolPtr(true)
	}
	if hb.IntervalMinutes == 0 {
		hb.IntervalMinutes = 15
	}
	if hb.IntervalMinutes < 1 {
		return fmt.Errorf("heartbeat.interval_minutes: must be >= 1")
	}
	if hb.History == 0 {
		hb.History = 100
	}
	if hb.History < 1 {
		return fmt.Errorf("heartbeat.history: must be >= 1")
	}
	if _, err := ParseDurationOrDefault("heartbeat.wake_debounce", hb.WakeDebounce, time.Minute); err != nil {
		return err
	}

	ck := &c.Checks
	if ck.Messages.Enabled == nil {
		ck.Messages.Enabled = boolPtr(true)
	}
	if ck.Messages.Limit == 0 {
		ck.Messages.Limit = 40
	}
	if ck.Messages.Limit < 1 {
		return fmt.Errorf("checks.messages.limit: must be >= 1")
	}
	if strings.TrimSpace(ck.Messages.StatePath) == "" {
		if dir := strings.TrimSpace(c.Schedule.Path); dir != "" {
			ck.Messages.StatePath = filepath.Join(filepath.Dir(dir), "watermarks.json")
		} else {
			ck.Messages.StatePath = "watermarks.json"
		}
	}
	if ck.Infra.Enabled == nil {
		ck.Infra.Enabled = boolPtr(true)
	}
	if strings.TrimSpace(ck.Infra.DiskPath) == "" {
		ck.Infra.DiskPath = "/"
	}
	if ck.Infra.DiskThresholdPct == 0 {
		ck.Infra.DiskThresholdPct = 85
	}
	if ck.Infra.DiskThresholdPct < 1 || ck.Infra.DiskThresholdPct > 100 {
		return fmt.Errorf("checks.infra.disk_threshold_pct: must be 1..100")
	}
	if _, err := ParseDurationOrDefault("checks.infra.probe_timeout", ck.Infra.ProbeTimeout, 5*time.Second); err != nil {
		return err
	}
	if _, err := ParseDurationOrDefault("checks.bandwidth.timeout", ck.Bandwidth.Timeout, 2*time.Minute); err != nil {
		return err
	}
	if ck.Bandwidth.MinDownloadMbps < 0 {
		return fmt.Errorf("checks.bandwidth.min_download_mbps: must be >= 0")
	}

	// The messages check needs a live Matrix session.
	if *ck.Messages.Enabled {
		if err := c.requireMatrix("checks.messages"); err != nil {
			return err
		}
	}

	al := &c.Alert
	al.Driver = strings.ToLower(strings.TrimSpace(al.Driver))
	switch al.Driver {
	case "":
		al.Driver = "none"
	case "none":
	case "matrix":
		if strings.TrimSpace(hb.AlertChannel) == "" {
			return fmt.Errorf("heartbeat.alert_channel: required for alert.driver=matrix")
		}
		if err := c.requireMatrix("alert.driver=matrix"); err != nil {
			return err
		}
	case "telegram":
		if strings.TrimSpace(al.Telegram.Token) == "" || al.Telegram.ChatID == 0 {
			return fmt.Errorf("alert.telegram: token and chat_id required for alert.driver=telegram")
		}
	default:
		return fmt.Errorf("alert.driver: unknown driver %q (matrix|telegram|none)", al.Driver)
	}
	if _, err := ParseDurationOrDefault("alert.rate_every", al.RateEvery, 10*time.Minute); err != nil {
		return err
	}
	if al.RateBurst == 0 {
		al.RateBurst = 2
	}
	if al.RateBurst < 1 {
		return fmt.Errorf("alert.rate_burst: must be >= 1")
	}

	if strings.TrimSpace(c.Agent.Command) == "" {
		return fmt.Errorf("agent.command: required (the daemon exists to run agent turns)")
	}

	if c.Storage != nil {
		d := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
		if d != "" && d != "none" && d != "sqlite" {
			return fmt.Errorf("storage.driver: unknown driver %q (sqlite|none)", c.Storage.Driver)
		}
		if d == "sqlite" && strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path: required for storage.driver=sqlite")
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	if c.Ops.Enabled && strings.TrimSpace(c.Ops.Addr) == "" {
		c.Ops.Addr = "127.0.0.1:6565"
	}
	for _, f := range []struct{ path, raw string }{
		{"ops.read_timeout", c.Ops.ReadTimeout},
		{"ops.write_timeout", c.Ops.WriteTimeout},
		{"ops.idle_timeout", c.Ops.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) requireMatrix(who string) error {
	m := c.Matrix
	if strings.TrimSpace(m.Homeserver) == "" {
		return fmt.Errorf("matrix.homeserver: required by %s", who)
	}
	if strings.TrimSpace(m.AccessToken) == "" {
		return fmt.Errorf("matrix.access_token: required by %s", who)
	}
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("matrix.user_id: required by %s", who)
	}
	return nil
}

// Location resolves the configured timezone (empty = system local).
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

func boolPtr(b bool) *bool { return &b }
