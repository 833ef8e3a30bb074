// Package storage is the optional run/beat audit log.
//
// It records:
//   - Job runs (one row per scheduler dispatch)
//   - Heartbeat results (one row per executed beat)
//
// Writes are best-effort: callers log and move on when a write fails.
package storage
