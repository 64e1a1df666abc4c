package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marketwatch/internal/alerting"
	"marketwatch/internal/config"
	"marketwatch/internal/events"
	"marketwatch/internal/scheduler"
	"marketwatch/internal/storage"
)

type countingEvaluator struct {
	calls atomic.Int32
	err   error
}

func (c *countingEvaluator) Evaluate(context.Context) (alerting.TickReport, error) {
	c.calls.Add(1)
	return alerting.TickReport{}, c.err
}

type lockingKV struct {
	*storage.MemoryKV
	acquired bool
	unlocked atomic.Bool
}

func (l *lockingKV) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.unlocked.Store(true) }, true, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Scheduler.Interval = time.Hour
	return cfg
}

func TestTickEvaluates(t *testing.T) {
	eval := &countingEvaluator{}
	kv := &lockingKV{MemoryKV: storage.NewMemoryKV(), acquired: true}
	svc := New(testConfig(), Options{Engine: eval, KV: kv, Logger: zerolog.Nop()})

	if err := svc.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if eval.calls.Load() != 1 {
		t.Fatalf("expected one evaluation, got %d", eval.calls.Load())
	}
	if !kv.unlocked.Load() {
		t.Fatal("advisory lock should be released after the tick")
	}
}

func TestTickSkipsWhenLockHeld(t *testing.T) {
	eval := &countingEvaluator{}
	kv := &lockingKV{MemoryKV: storage.NewMemoryKV(), acquired: false}
	svc := New(testConfig(), Options{Engine: eval, KV: kv, Logger: zerolog.Nop()})

	if err := svc.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if eval.calls.Load() != 0 {
		t.Fatal("another process holds the lock; tick should be skipped")
	}
}

func TestTickReportsEvaluationError(t *testing.T) {
	eval := &countingEvaluator{err: errors.New("disk full")}
	svc := New(testConfig(), Options{Engine: eval, KV: storage.NewMemoryKV(), Logger: zerolog.Nop()})
	if err := svc.Tick(context.Background(), time.Now()); err == nil {
		t.Fatal("storage failure should surface from Tick")
	}
}

func TestRunRelaysChangesAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus(8)
	eval := &countingEvaluator{}
	sched := scheduler.New(scheduler.Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())
	seen := make(chan events.Change, 4)
	svc := New(testConfig(), Options{
		Scheduler: sched,
		Engine:    eval,
		KV:        storage.NewMemoryKV(),
		Bus:       bus,
		Logger:    zerolog.Nop(),
		OnChange: func(c events.Change) {
			select {
			case seen <- c:
			default:
			}
		},
	})

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	repo := storage.NewRepository(storage.NewMemoryKV(), bus)
	deadline := time.After(2 * time.Second)
	for {
		// Keep publishing until the relay has subscribed.
		if err := repo.SaveWatchlist(ctx, storage.Watchlist{Stocks: []string{"AAPL"}}); err != nil {
			t.Fatalf("save: %v", err)
		}
		select {
		case c := <-seen:
			if c.Key != storage.KeyWatchlist {
				t.Fatalf("unexpected change %+v", c)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("cancelled Run should return nil, got %v", err)
			}
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("change was never relayed")
		}
	}
}
