package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"marketwatch/internal/alerting"
	"marketwatch/internal/config"
	"marketwatch/internal/events"
	"marketwatch/internal/scheduler"
	"marketwatch/internal/storage"
)

// Evaluator runs one evaluation tick.
type Evaluator interface {
	Evaluate(ctx context.Context) (alerting.TickReport, error)
}

// Options wire the long-running service.
type Options struct {
	Scheduler *scheduler.Scheduler
	Engine    Evaluator
	KV        storage.KV
	Bus       *events.Bus
	Logger    zerolog.Logger
	// OnChange receives every change to a persisted key, from this process or another.
	OnChange func(events.Change)
}

// Service drives periodic evaluation and relays store changes to watchers.
type Service struct {
	scheduler *scheduler.Scheduler
	engine    Evaluator
	bus       *events.Bus
	onChange  func(events.Change)
	logger    zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
	watched *storage.FileKV
}

// New constructs the monitoring service.
func New(cfg *config.Config, opts Options) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := opts.KV.(storage.AdvisoryLocker); ok {
		locker = l
	}

	var watched *storage.FileKV
	if f, ok := opts.KV.(*storage.FileKV); ok && cfg.Storage.Watch && opts.Bus != nil {
		watched = f
	}

	return &Service{
		scheduler: opts.Scheduler,
		engine:    opts.Engine,
		bus:       opts.Bus,
		onChange:  opts.OnChange,
		logger:    opts.Logger.With().Str("component", "service").Logger(),
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		watched:   watched,
	}
}

// Run blocks until ctx is cancelled. Cancellation is a clean stop and returns nil.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil || s.engine == nil {
		return fmt.Errorf("service not fully configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.scheduler.Run(gctx, s.Tick)
	})
	if s.bus != nil {
		changes, cancel := s.bus.Subscribe(storage.KeyAlerts, storage.KeyHistory, storage.KeyWatchlist)
		g.Go(func() error {
			defer cancel()
			s.relay(gctx, changes)
			return nil
		})
	}
	if s.watched != nil {
		g.Go(func() error {
			err := s.watched.Watch(gctx, s.bus, s.logger)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn().Err(err).Msg("file watcher stopped; external edits will not be announced")
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Tick evaluates once, unless another process holds the evaluation lock.
func (s *Service) Tick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	report, err := s.engine.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("evaluate alerts: %w", err)
	}

	event := s.logger.Debug()
	if len(report.Triggered) > 0 || len(report.FailedPartitions) > 0 {
		event = s.logger.Info()
	}
	event.Time("at", at).
		Int("active", report.Active).
		Int("evaluated", report.Evaluated).
		Int("triggered", len(report.Triggered)).
		Int("failed_partitions", len(report.FailedPartitions)).
		Bool("shared", report.Shared).
		Msg("tick complete")
	return nil
}

func (s *Service) relay(ctx context.Context, changes <-chan events.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			s.logger.Debug().Str("key", change.Key).Str("source", change.Source).Msg("store changed")
			if s.onChange != nil {
				s.onChange(change)
			}
		}
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
