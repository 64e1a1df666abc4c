package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"marketwatch/internal/alerting"
	"marketwatch/internal/config"
	"marketwatch/internal/events"
	"marketwatch/internal/fetcher"
	"marketwatch/internal/scheduler"
	"marketwatch/internal/service"
	"marketwatch/internal/storage"
	"marketwatch/internal/watchlist"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// session holds the store-backed components for one command invocation.
type session struct {
	kv        storage.KV
	bus       *events.Bus
	repo      *storage.Repository
	engine    *alerting.Engine
	watchlist *watchlist.Store
	logger    zerolog.Logger
}

func (s *session) close() {
	s.engine.Close()
	s.bus.Close()
	if err := s.kv.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("close storage")
	}
}

func (a *App) newGateway() *fetcher.Gateway {
	return fetcher.NewGateway(fetcher.GatewayOptions{
		BaseURL:   a.Config.Gateway.BaseURL,
		Timeout:   a.Config.Gateway.RequestTimeout,
		UserAgent: a.Config.Gateway.UserAgent,
	}, a.Logger)
}

func (a *App) newSink() *alerting.Sink {
	var notifiers []alerting.Notifier
	cfg := a.Config.Notify
	if cfg.Terminal.Enabled {
		notifiers = append(notifiers, alerting.NewTerminalNotifier(a.Out, cfg.Terminal.Color))
	}
	if cfg.Desktop.Enabled {
		notifiers = append(notifiers, alerting.NewDesktopNotifier(cfg.Desktop.Command))
	}
	if cfg.Telegram.Enabled {
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Telegram.Timeout, a.Logger))
	}
	return alerting.NewSink(a.Logger, notifiers...)
}

func (a *App) open(ctx context.Context, prices fetcher.PriceFetcher) (*session, error) {
	kv, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return nil, err
	}
	if prices == nil {
		prices = a.newGateway()
	}

	bus := events.NewBus(32)
	repo := storage.NewRepository(kv, bus)
	return &session{
		kv:        kv,
		bus:       bus,
		repo:      repo,
		engine:    alerting.NewEngine(repo, prices, a.newSink(), a.Logger, alerting.EngineOptions{}),
		watchlist: watchlist.New(repo, a.Logger),
		logger:    a.Logger,
	}, nil
}

// Run executes the long-running evaluation service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer s.close()

	sched := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		RunOnStart:    a.Config.Scheduler.RunOnStart,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := service.New(a.Config, service.Options{
		Scheduler: sched,
		Engine:    s.engine,
		KV:        s.kv,
		Bus:       s.bus,
		Logger:    a.Logger,
		OnChange:  func(c events.Change) { a.reload(ctx, s, c) },
	})

	alerts, err := s.engine.ListAlerts(ctx)
	if err != nil {
		return err
	}
	a.Logger.Info().
		Int("alerts", len(alerts)).
		Str("backend", a.Config.Storage.Backend).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting alert service")

	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("alert service stopped")
	return nil
}

// reload re-reads the key named by c and logs its new size.
func (a *App) reload(ctx context.Context, s *session, c events.Change) {
	level := zerolog.DebugLevel
	if c.Source == "file" {
		level = zerolog.InfoLevel
	}

	var (
		field string
		size  int
		err   error
	)
	switch c.Key {
	case storage.KeyAlerts:
		var alerts []storage.Alert
		alerts, err = s.repo.LoadAlerts(ctx)
		field, size = "alerts", len(alerts)
	case storage.KeyHistory:
		var history []storage.TriggeredAlert
		history, err = s.repo.LoadHistory(ctx)
		field, size = "history", len(history)
	case storage.KeyWatchlist:
		var w storage.Watchlist
		w, err = s.watchlist.List(ctx)
		field, size = "watchlist", len(w.Stocks)+len(w.Crypto)
	default:
		return
	}
	if err != nil {
		a.Logger.Warn().Err(err).Str("key", c.Key).Msg("reload failed")
		return
	}
	a.Logger.WithLevel(level).Str("key", c.Key).Str("source", c.Source).Int(field, size).Msg("store changed")
}

// ExportOptions hold parameters for exporting alert history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	Symbol    string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// AlertOptions describe a new alert as entered on the command line.
type AlertOptions struct {
	Symbol    string
	AssetType string
	Target    string
	Condition string
}

// QuoteOptions configure the quote command.
type QuoteOptions struct {
	AssetType string
	Symbols   []string
	// Suggest, when set to above or below, prints a target 5% away from each price.
	Suggest string
}

// SimulateOptions configure simulate-alert.
type SimulateOptions struct {
	Symbol    string
	AssetType string
	Price     string
	DryRun    bool
}
