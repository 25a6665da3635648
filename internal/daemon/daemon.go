package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"autolender/internal/events"
	"autolender/internal/session"
)

// Options configure the schedule.
type Options struct {
	Workers          int64
	Intervals        map[Kind]time.Duration
	LivenessInterval time.Duration
	StrategyRefresh  time.Duration
	PortfolioRefresh time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultInterval is used for kinds without a configured interval.
const DefaultInterval = 30 * time.Second

// Daemon schedules executors and the administrative jobs around them.
type Daemon struct {
	opts    Options
	session *session.Session
	runners []Runner
	cron    *cron.Cron
	pool    *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger
}

// New constructs a daemon. Nothing runs until Start.
func New(s *session.Session, runners []Runner, opts Options, logger zerolog.Logger) *Daemon {
	if opts.Workers <= 0 {
		opts.Workers = int64(max(len(runners), 1))
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	logger = logger.With().Str("component", "daemon").Logger()
	cronLogger := cronLog{logger: logger}
	return &Daemon{
		opts:    opts,
		session: s,
		runners: runners,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		pool:   semaphore.NewWeighted(opts.Workers),
		logger: logger,
	}
}

// Start registers every job and starts the scheduler. Executors keep running until Stop.
func (d *Daemon) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for _, r := range d.runners {
		interval := d.opts.Intervals[r.Kind()]
		if interval <= 0 {
			interval = DefaultInterval
		}
		if err := d.every(interval, func() { d.run(r) }); err != nil {
			return fmt.Errorf("register %s: %w", r.Kind(), err)
		}
	}
	if d.opts.LivenessInterval > 0 {
		if err := d.every(d.opts.LivenessInterval, func() { d.CheckLiveness(d.ctx) }); err != nil {
			return fmt.Errorf("register liveness: %w", err)
		}
	}
	if d.opts.StrategyRefresh > 0 {
		if err := d.every(d.opts.StrategyRefresh, d.reloadStrategy); err != nil {
			return fmt.Errorf("register strategy reload: %w", err)
		}
	}
	if d.opts.PortfolioRefresh > 0 {
		if err := d.every(d.opts.PortfolioRefresh, d.refreshPortfolio); err != nil {
			return fmt.Errorf("register portfolio refresh: %w", err)
		}
	}

	d.reloadStrategy()
	d.cron.Start()
	d.logger.Info().Int("executors", len(d.runners)).Int64("workers", d.opts.Workers).Msg("daemon started")
	return nil
}

// Stop stops scheduling and waits for in-flight runs, at most ShutdownTimeout.
func (d *Daemon) Stop() {
	drained := d.cron.Stop()
	timer := time.NewTimer(d.opts.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-drained.Done():
		d.logger.Info().Msg("daemon stopped")
	case <-timer.C:
		d.logger.Warn().Dur("timeout", d.opts.ShutdownTimeout).Msg("in-flight runs did not finish, cancelling")
	}
	if d.cancel != nil {
		d.cancel()
	}
}

// RunOnce runs every executor sequentially, bypassing the schedule.
func (d *Daemon) RunOnce(ctx context.Context) error {
	d.reloadStrategy()
	var errs []error
	for _, r := range d.runners {
		if err := r.Run(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Kind(), err))
		}
	}
	return errors.Join(errs...)
}

// CheckLiveness probes the remote API, suspending executors while it is unreachable.
func (d *Daemon) CheckLiveness(ctx context.Context) {
	version, err := d.session.API().Version(ctx)
	up := err == nil
	if !d.session.SetAvailable(up) {
		return
	}
	if up {
		d.logger.Info().Str("version", version).Msg("remote API reachable, resuming")
		d.session.Fire(ctx, events.Event{Type: events.TypeResumed})
		return
	}
	d.logger.Warn().Err(err).Msg("remote API unreachable, suspending")
	d.session.Fire(ctx, events.Event{Type: events.TypeSuspended, Reason: err.Error()})
}

func (d *Daemon) every(interval time.Duration, job func()) error {
	_, err := d.cron.AddFunc("@every "+interval.String(), job)
	return err
}

func (d *Daemon) run(r Runner) {
	if !d.session.Available() {
		d.logger.Debug().Str("kind", string(r.Kind())).Msg("suspended, skipping")
		return
	}
	if err := d.pool.Acquire(d.ctx, 1); err != nil {
		return
	}
	defer d.pool.Release(1)

	started := time.Now()
	if err := r.Run(d.ctx); err != nil {
		d.logger.Error().Err(err).Str("kind", string(r.Kind())).Msg("executor run failed")
		return
	}
	d.logger.Trace().Str("kind", string(r.Kind())).Dur("took", time.Since(started)).Msg("executor run finished")
}

func (d *Daemon) reloadStrategy() {
	if err := d.session.Strategies().Reload(); err != nil {
		d.logger.Error().Err(err).Msg("strategy reload failed, keeping previous")
	}
}

func (d *Daemon) refreshPortfolio() {
	if !d.session.Available() {
		return
	}
	if err := d.session.Portfolio().Refresh(d.ctx); err != nil {
		d.logger.Warn().Err(err).Msg("portfolio refresh failed")
	}
}

// cronLog adapts zerolog to cron.Logger.
type cronLog struct {
	logger zerolog.Logger
}

func (l cronLog) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Trace().Fields(keysAndValues).Msg(msg)
}

func (l cronLog) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
