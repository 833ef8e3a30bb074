package config

import (
	"reflect"
	"sort"
	"strings"

	logx "vigil/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (matrix access token, telegram
// token, ops token) are only ever reported as present/absent.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", strings.TrimSpace(newCfg.Timezone)))
	}

	if !reflect.DeepEqual(oldCfg.ActiveHours, newCfg.ActiveHours) {
		changed = append(changed, "active_hours")
		if newCfg.ActiveHours != nil {
			attrs = append(attrs,
				logx.String("active_hours.start", newCfg.ActiveHours.Start),
				logx.String("active_hours.end", newCfg.ActiveHours.End),
			)
		} else {
			attrs = append(attrs, logx.Bool("active_hours.set", false))
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("schedule.path", strings.TrimSpace(newCfg.Schedule.Path)),
			logx.Bool("schedule.autostart", derefBool(newCfg.Schedule.Autostart, true)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Heartbeat, newCfg.Heartbeat) {
		changed = append(changed, "heartbeat")
		attrs = append(attrs,
			logx.Bool("heartbeat.autostart", derefBool(newCfg.Heartbeat.Autostart, true)),
			logx.Int("heartbeat.interval_minutes", newCfg.Heartbeat.IntervalMinutes),
			logx.Int("heartbeat.history", newCfg.Heartbeat.History),
			logx.String("heartbeat.wake_debounce", strings.TrimSpace(newCfg.Heartbeat.WakeDebounce)),
			logx.Bool("heartbeat.alert_channel_set", strings.TrimSpace(newCfg.Heartbeat.AlertChannel) != ""),
			logx.Int("heartbeat.priority_senders", len(newCfg.Heartbeat.PrioritySenders)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Checks, newCfg.Checks) {
		changed = append(changed, "checks")
		attrs = append(attrs,
			logx.Bool("checks.messages.enabled", derefBool(newCfg.Checks.Messages.Enabled, true)),
			logx.Int("checks.messages.limit", newCfg.Checks.Messages.Limit),
			logx.Bool("checks.infra.enabled", derefBool(newCfg.Checks.Infra.Enabled, true)),
			logx.Int("checks.infra.services", len(newCfg.Checks.Infra.Services)),
			logx.Bool("checks.bandwidth.enabled", newCfg.Checks.Bandwidth.Enabled),
		)
	}

	// Matrix (never log the access token)
	if oldCfg.Matrix.Homeserver != newCfg.Matrix.Homeserver ||
		oldCfg.Matrix.UserID != newCfg.Matrix.UserID ||
		(strings.TrimSpace(oldCfg.Matrix.AccessToken) != "") != (strings.TrimSpace(newCfg.Matrix.AccessToken) != "") {
		changed = append(changed, "matrix")
		attrs = append(attrs,
			logx.String("matrix.homeserver", strings.TrimSpace(newCfg.Matrix.Homeserver)),
			logx.String("matrix.user_id", strings.TrimSpace(newCfg.Matrix.UserID)),
			logx.Bool("matrix.token_set", strings.TrimSpace(newCfg.Matrix.AccessToken) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Agent, newCfg.Agent) {
		changed = append(changed, "agent")
		attrs = append(attrs,
			logx.String("agent.command", strings.TrimSpace(newCfg.Agent.Command)),
			logx.Int("agent.args", len(newCfg.Agent.Args)),
		)
	}

	// Alert (never log the telegram token)
	if oldCfg.Alert.Driver != newCfg.Alert.Driver ||
		oldCfg.Alert.Telegram.ChatID != newCfg.Alert.Telegram.ChatID ||
		(strings.TrimSpace(oldCfg.Alert.Telegram.Token) != "") != (strings.TrimSpace(newCfg.Alert.Telegram.Token) != "") ||
		strings.TrimSpace(oldCfg.Alert.RateEvery) != strings.TrimSpace(newCfg.Alert.RateEvery) ||
		oldCfg.Alert.RateBurst != newCfg.Alert.RateBurst {
		changed = append(changed, "alert")
		attrs = append(attrs,
			logx.String("alert.driver", newCfg.Alert.Driver),
			logx.String("alert.rate_every", strings.TrimSpace(newCfg.Alert.RateEvery)),
			logx.Int("alert.rate_burst", newCfg.Alert.RateBurst),
		)
	}

	// Storage: nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Ops (never log the token)
	if oldCfg.Ops.Enabled != newCfg.Ops.Enabled ||
		strings.TrimSpace(oldCfg.Ops.Addr) != strings.TrimSpace(newCfg.Ops.Addr) ||
		oldCfg.Ops.AllowInsecure != newCfg.Ops.AllowInsecure ||
		(strings.TrimSpace(oldCfg.Ops.Token) != "") != (strings.TrimSpace(newCfg.Ops.Token) != "") {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
			logx.Bool("ops.allow_insecure", newCfg.Ops.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefBool(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
