package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite; 0 means default
}

// RunRecord is one scheduler dispatch.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID       string
	Job      string
	Channel  string
	Task     string
	Outcome  string // success | degraded | failure
	ExitCode int
	Error    string
	At       time.Time
	TookMS   int64
}

// BeatRecord is one executed heartbeat.
type BeatRecord struct {
	Seq      uint64
	Tier     string
	OK       bool
	Urgent   bool
	Failed   []string
	Briefing string
	At       time.Time
	TookMS   int64
}
