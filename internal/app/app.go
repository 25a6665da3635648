package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"autolender/internal/config"
	"autolender/internal/daemon"
	"autolender/internal/events"
	"autolender/internal/remote"
	"autolender/internal/server"
	"autolender/internal/session"
	"autolender/internal/storage"
	"autolender/internal/strategy"
	"autolender/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClient(reg prometheus.Registerer) *remote.Client {
	rc := a.Config.Remote
	backoff := remote.DefaultBackoff()
	if rc.BackoffMin > 0 {
		backoff.Min = rc.BackoffMin
	}
	if rc.BackoffMax > 0 {
		backoff.Max = rc.BackoffMax
	}
	caller := remote.NewCaller(remote.CallerOptions{
		MaxAttempts: rc.MaxAttempts,
		Backoff:     backoff,
		Metrics:     remote.NewMetrics(reg),
	}, a.Logger)
	return remote.NewClient(remote.ClientOptions{
		BaseURL:   rc.BaseURL,
		Token:     rc.Token,
		UserAgent: rc.UserAgent,
		Timeout:   rc.RequestTimeout,
		PageSize:  rc.PageSize,
	}, caller, a.Logger)
}

func (a *App) newEvents(audit events.OperationRecorder) *events.Registry {
	registry := events.NewRegistry(a.Logger)
	registry.RegisterInline("log", events.LogListener(a.Logger))
	if audit != nil {
		registry.Register("audit", events.AuditListener(audit), events.TypeExecuted, events.TypeRejected)
	}
	if tg := a.Config.Alerting.Telegram; tg.Enabled {
		listener := events.NewTelegramListener(tg.BotToken, tg.ChatID, tg.APIBase, tg.Timeout, a.Logger)
		registry.Register("telegram", listener, events.TelegramTypes...)
	}
	return registry
}

// sessionFactory creates sessions against the configured marketplace.
func (a *App) sessionFactory(client *remote.Client, backend storage.Backend, registry *events.Registry, dryRun bool) session.Factory {
	return func(username string) (*session.Session, error) {
		strategies := strategy.NewSource(a.Config.Strategy.Path, a.Logger)
		if err := strategies.Reload(); err != nil {
			return nil, err
		}
		return session.New(session.Options{
			Info:            session.Info{Username: username, DryRun: dryRun},
			API:             client,
			Strategies:      strategies,
			State:           backend,
			Events:          registry,
			LoanTTL:         a.Config.Cache.LoanTTL,
			RestrictionsTTL: a.Config.Cache.RestrictionsTTL,
			SyntheticMaxAge: a.Config.Portfolio.SyntheticMaxAge,
		}, a.Logger), nil
	}
}

func (a *App) kinds() ([]daemon.Kind, error) {
	kinds := make([]daemon.Kind, 0, len(a.Config.Daemon.Operations))
	for _, name := range a.Config.Daemon.Operations {
		kind, err := daemon.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("daemon.operations: %w", err)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func (a *App) executorOptions() daemon.ExecutorOptions {
	return daemon.ExecutorOptions{ForcedCheckAfter: a.Config.Daemon.ForcedCheckAfter}
}

func (a *App) daemonOptions() daemon.Options {
	dc := a.Config.Daemon
	return daemon.Options{
		Workers: int64(dc.Workers),
		Intervals: map[daemon.Kind]time.Duration{
			daemon.KindInvesting:  dc.Intervals.Investing,
			daemon.KindPurchasing: dc.Intervals.Purchasing,
			daemon.KindSelling:    dc.Intervals.Selling,
		},
		LivenessInterval: dc.LivenessInterval,
		StrategyRefresh:  dc.StrategyRefresh,
		PortfolioRefresh: dc.PortfolioRefresh,
		ShutdownTimeout:  dc.ShutdownTimeout,
	}
}

// lock makes sure no other process trades for the same account against the same database.
func (a *App) lock(ctx context.Context, backend storage.Backend) (func(), error) {
	locker, ok := backend.(storage.AdvisoryLocker)
	if !ok {
		return func() {}, nil
	}
	unlock, acquired, err := locker.TryAdvisoryLock(ctx, storage.AdvisoryKey(a.Config.App.Account))
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("account %s is already being traded by another process", a.Config.App.Account)
	}
	return unlock, nil
}

// Run executes the long-running robot.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	unlock, err := a.lock(ctx, backend)
	if err != nil {
		return err
	}
	defer unlock()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	client := a.newClient(reg)
	registry := a.newEvents(backend)
	defer registry.Close()
	sessions := session.NewRegistry(a.sessionFactory(client, backend, registry, a.Config.App.DryRun))
	defer sessions.CloseAll()

	sess, err := sessions.Get(a.Config.App.Account)
	if err != nil {
		return err
	}
	kinds, err := a.kinds()
	if err != nil {
		return err
	}
	runners, err := daemon.NewRunners(kinds, sess, a.executorOptions(), a.Logger)
	if err != nil {
		return err
	}

	d := daemon.New(sess, runners, a.daemonOptions(), a.Logger)
	d.CheckLiveness(ctx)
	if err := d.Start(ctx); err != nil {
		return err
	}

	a.Logger.Info().
		Str("account", a.Config.App.Account).
		Bool("dry_run", a.Config.App.DryRun).
		Str("storage", a.Config.Storage.Driver).
		Str("version", version.Version).
		Msg("robot started")

	g, gctx := errgroup.WithContext(ctx)
	if a.Config.Server.Enabled {
		srv := server.New(a.Config.Server.Listen, sess, reg, a.Logger)
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		d.Stop()
		return nil
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("robot terminated with error")
		return err
	}
	a.Logger.Info().Msg("robot stopped")
	return nil
}

// OnceOptions configure a single pass.
type OnceOptions struct {
	// Commit sends accepted recommendations to the marketplace instead of simulating them.
	Commit bool
}

// ExportOptions hold parameters for exporting the operations log.
type ExportOptions struct {
	From    *time.Time
	To      *time.Time
	PNGPath string
	CSVPath string
	MaxRows int
}

// StatusOptions configure the status command.
type StatusOptions struct {
	Limit int
}
