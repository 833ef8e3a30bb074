package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "vigil/pkg/logx"
)

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithLogger(logx.Nop()))
	s.Go("boom", func(ctx context.Context) error {
		panic("kaput")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Stop(ctx)
	if err == nil {
		t.Fatal("expected panic to surface as supervisor error")
	}
	if got := err.Error(); got != "panic in boom: kaput" {
		t.Fatalf("Err = %q, want panic error", got)
	}
}

func TestGoCleanExit(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("ok", func(ctx context.Context) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}

func TestGoContextCanceledIsClean(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}

func TestGoRestartRetriesUntilCleanExit(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	var runs atomic.Int64
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("nope")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}

func TestGoRestartPublishesFirstError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	var runs atomic.Int64
	s.GoRestart("flaky", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("nope")
	},
		WithRestartBackoff(time.Millisecond, 2*time.Millisecond),
		WithPublishFirstError(true),
	)

	deadline := time.Now().Add(2 * time.Second)
	for s.Err() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.Err() == nil {
		t.Fatal("Err = nil, want first restart error published")
	}
	// Publishing the error must not stop the loop.
	before := runs.Load()
	time.Sleep(20 * time.Millisecond)
	if runs.Load() <= before {
		t.Fatal("restart loop stopped after publishing error")
	}

	s.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.Wait(ctx)
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))

	canceled := make(chan struct{})
	s.Go("watch", func(ctx context.Context) error {
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	})
	s.Go("fails", func(ctx context.Context) error { return errors.New("fatal") })

	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor context not canceled after error")
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	release := make(chan struct{})
	s.Go("held", func(ctx context.Context) error {
		<-release
		return nil
	})

	deadline := time.Now().Add(2 * time.Second)
	for s.Counters().Active != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := s.Counters(); got.Active != 1 || got.Started != 1 {
		t.Fatalf("Counters = %+v, want active 1, started 1", got)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if got := s.Counters().Active; got != 0 {
		t.Fatalf("Active after Wait = %d, want 0", got)
	}
}
