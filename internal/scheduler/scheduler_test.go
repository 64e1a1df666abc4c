package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunOnStartFiresImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())
	fired := make(chan time.Time, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(_ context.Context, at time.Time) error {
			fired <- at
			return nil
		})
	}()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick should not wait for the interval")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run should stop with the context, got %v", err)
	}
}

func TestRunKeepsTickingAfterErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if calls.Add(1) >= 3 {
				cancel()
			}
			return errors.New("gateway down")
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not keep ticking after tick errors")
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", calls.Load())
	}
}

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 30 * time.Second, AlignToBucket: true}, zerolog.Nop())
	now := time.Date(2024, 1, 1, 10, 0, 12, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC)) {
		t.Fatalf("unexpected aligned tick %s", got)
	}
	if got := s.nextTick(now.Add(18 * time.Second)); !got.Equal(time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC)) {
		t.Fatalf("tick exactly on a boundary should move to the next one, got %s", got)
	}
}

func TestStartupDelayHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(Options{Interval: time.Second, StartupDelay: time.Hour, RunOnStart: true}, zerolog.Nop())
	err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("no tick after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
