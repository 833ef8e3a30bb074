// Package heartbeat runs the periodic awareness loop: every interval
// it executes the check registry, assembles a briefing, and escalates
// urgent conditions to the alert sink and the wake callback.
package heartbeat

import (
	"context"
	"time"

	"vigil/internal/checks"
)

// Tier classifies a beat by how much work it is expected to do.
type Tier string

const (
	// TierPulse is the default: lightweight checks only.
	TierPulse Tier = "pulse"
	// TierBreath is every 3rd beat.
	TierBreath Tier = "breath"
	// TierTide is every 6th beat; tide wins when both divide.
	TierTide Tier = "tide"
)

func tierFor(seq uint64) Tier {
	switch {
	case seq%6 == 0:
		return TierTide
	case seq%3 == 0:
		return TierBreath
	default:
		return TierPulse
	}
}

// Beat is the aggregate result of one executed heartbeat.
type Beat struct {
	Seq      uint64          `json:"seq"`
	Tier     Tier            `json:"tier"`
	OK       bool            `json:"ok"`
	Failed   []string        `json:"failed,omitempty"`
	Checks   []checks.Result `json:"checks,omitempty"`
	Briefing string          `json:"briefing"`
	Urgent   bool            `json:"urgent"`
	At       time.Time       `json:"at"`
	Took     time.Duration   `json:"took"`
}

// AlertSink delivers an urgent briefing to an operator channel.
// Best-effort; failures are logged and swallowed.
type AlertSink interface {
	Notify(ctx context.Context, text string) error
}

// WakeFunc asks the consuming agent to act on a briefing immediately
// instead of waiting for its next scheduled turn.
type WakeFunc func(ctx context.Context, briefing string) error

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Running      bool          `json:"running"`
	Seq          uint64        `json:"seq"`
	Executed     uint64        `json:"executed"`
	SkippedBusy  uint64        `json:"skipped_busy"`
	SkippedHours uint64        `json:"skipped_hours"`
	Urgent       uint64        `json:"urgent"`
	Interval     time.Duration `json:"interval"`
	LastBeat     *Beat         `json:"last_beat,omitempty"`
}
