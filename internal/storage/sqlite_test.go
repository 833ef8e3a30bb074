package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	logx "vigil/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "vigil.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if st != nil {
		t.Fatal("disabled storage should be nil")
	}

	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestRunsRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC)
	for i, outcome := range []string{"success", "failure", "degraded"} {
		err := st.AppendRun(ctx, RunRecord{
			ID:       string(rune('a' + i)),
			Job:      "brief",
			Channel:  "general",
			Task:     "Summarize open items",
			Outcome:  outcome,
			ExitCode: i,
			At:       base.Add(time.Duration(i) * time.Minute),
			TookMS:   int64(100 * (i + 1)),
		})
		if err != nil {
			t.Fatalf("AppendRun error: %v", err)
		}
	}

	runs, err := st.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	// newest first
	if runs[0].Outcome != "degraded" || runs[1].Outcome != "failure" {
		t.Fatalf("order = [%s %s], want [degraded failure]", runs[0].Outcome, runs[1].Outcome)
	}
	if !runs[0].At.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("At = %v, want %v", runs[0].At, base.Add(2*time.Minute))
	}
}

func TestBeatsRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	beat := BeatRecord{
		Seq:      6,
		Tier:     "tide",
		OK:       false,
		Urgent:   true,
		Failed:   []string{"messages", "infra"},
		Briefing: "2 new messages\ninfra: kanban down",
		At:       time.Date(2025, 6, 9, 9, 15, 0, 0, time.UTC),
		TookMS:   420,
	}
	if err := st.AppendBeat(ctx, beat); err != nil {
		t.Fatalf("AppendBeat error: %v", err)
	}

	beats, err := st.RecentBeats(ctx, 5)
	if err != nil {
		t.Fatalf("RecentBeats error: %v", err)
	}
	if len(beats) != 1 {
		t.Fatalf("beats = %d, want 1", len(beats))
	}
	got := beats[0]
	if got.Seq != 6 || got.Tier != "tide" || got.OK || !got.Urgent {
		t.Fatalf("beat = %+v", got)
	}
	if !reflect.DeepEqual(got.Failed, beat.Failed) {
		t.Fatalf("Failed = %v, want %v", got.Failed, beat.Failed)
	}
	if got.Briefing != beat.Briefing {
		t.Fatalf("Briefing = %q, want %q", got.Briefing, beat.Briefing)
	}
	if !got.At.Equal(beat.At) {
		t.Fatalf("At = %v, want %v", got.At, beat.At)
	}
}
