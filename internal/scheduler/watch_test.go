package scheduler

import (
	"context"
	"os"
	"testing"

	"vigil/internal/schedule"
	logx "vigil/pkg/logx"
)

// neverExpr is valid but matches no real wall-clock minute.
const neverExpr = "0 0 31 2 *"

func TestWatchReloadsOnChange(t *testing.T) {
	t.Parallel()

	store := writeSchedule(t, neverExpr+"  first  say hello")
	s := New(Config{}, store, &fakeExec{}, nil, nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop(context.Background())

	if got := s.Snapshot().Jobs; got != 1 {
		t.Fatalf("Jobs = %d, want 1 before edit", got)
	}

	err := store.Add(schedule.Job{Name: "second", Expr: neverExpr, Task: "say goodbye"})
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}

	waitFor(t, "reload after file change", func() bool {
		return s.Snapshot().Jobs == 2
	})
}

func TestWatchSurvivesRemoveAndRewrite(t *testing.T) {
	t.Parallel()

	store := writeSchedule(t, neverExpr+"  first  say hello")
	s := New(Config{}, store, &fakeExec{}, nil, nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop(context.Background())

	if err := os.Remove(store.Path()); err != nil {
		t.Fatalf("remove schedule: %v", err)
	}
	waitFor(t, "reload after remove", func() bool {
		return s.Snapshot().Jobs == 0
	})

	line := neverExpr + "  reborn  say hello again\n"
	if err := os.WriteFile(store.Path(), []byte(line), 0o644); err != nil {
		t.Fatalf("rewrite schedule: %v", err)
	}
	waitFor(t, "reload after rewrite", func() bool {
		return s.Snapshot().Jobs == 1
	})
}
