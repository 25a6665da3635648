// Package session holds everything one authenticated account needs while the robot runs.
package session

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"autolender/internal/cache"
	"autolender/internal/events"
	"autolender/internal/marketplace"
	"autolender/internal/model"
	"autolender/internal/portfolio"
	"autolender/internal/remote"
	"autolender/internal/strategy"
)

// API is the marketplace surface a session works with; *remote.Client implements it.
type API interface {
	Loans(sel *remote.Select) *remote.Reader[model.Loan]
	Participations(sel *remote.Select) *remote.Reader[model.Participation]
	Investments(sel *remote.Select) *remote.Reader[model.Investment]
	Loan(ctx context.Context, id int64) (model.Loan, error)
	LastPublishedLoan(ctx context.Context) (model.LastPublishedLoan, error)
	Statistics(ctx context.Context) (model.Statistics, error)
	Wallet(ctx context.Context) (model.Wallet, error)
	Restrictions(ctx context.Context) (model.Restrictions, error)
	Version(ctx context.Context) (string, error)
	Invest(ctx context.Context, loanID int64, amount decimal.Decimal) (remote.Outcome, error)
	Purchase(ctx context.Context, p model.Participation) (remote.Outcome, error)
	Sell(ctx context.Context, inv model.Investment) (remote.Outcome, error)
}

var _ API = (*remote.Client)(nil)

// Info identifies the account.
type Info struct {
	Username string
	DryRun   bool
}

// Options assemble a Session.
type Options struct {
	Info            Info
	API             API
	Strategies      *strategy.Source
	State           marketplace.StateStore
	Events          *events.Registry
	LoanTTL         time.Duration
	RestrictionsTTL time.Duration
	ActedTTL        time.Duration
	SyntheticMaxAge time.Duration
}

// Session is the per-account context shared by every executor.
type Session struct {
	info         Info
	api          API
	strategies   *strategy.Source
	state        marketplace.StateStore
	events       *events.Registry
	loans        *cache.Cache[int64, model.Loan]
	restrictions *cache.Cache[string, model.Restrictions]
	portfolio    *portfolio.Reconciler
	sold         *gocache.Cache
	acted        *gocache.Cache
	soldLoaded   atomic.Bool
	available    atomic.Bool
	logger       zerolog.Logger
}

const restrictionsKey = "restrictions"

// New assembles a session. Nothing remote is touched until first use.
func New(opts Options, logger zerolog.Logger) *Session {
	logger = logger.With().Str("component", "session").Str("account", opts.Info.Username).Logger()

	restrictionsTTL := opts.RestrictionsTTL
	if restrictionsTTL <= 0 {
		restrictionsTTL = time.Hour
	}
	actedTTL := opts.ActedTTL
	if actedTTL <= 0 {
		actedTTL = time.Hour
	}
	registry := opts.Events
	if registry == nil {
		registry = events.NewRegistry(logger)
	}
	strategies := opts.Strategies
	if strategies == nil {
		strategies = strategy.NewSource("", logger)
	}

	s := &Session{
		info:       opts.Info,
		api:        opts.API,
		strategies: strategies,
		state:      opts.State,
		events:     registry,
		sold:       gocache.New(gocache.NoExpiration, 0),
		acted:      gocache.New(actedTTL, 10*time.Minute),
		logger:     logger,
	}
	s.loans = cache.New(func(ctx context.Context, id int64) (model.Loan, error) {
		return opts.API.Loan(ctx, id)
	}, func(id int64) string { return strconv.FormatInt(id, 10) }, cache.Options{TTL: opts.LoanTTL})
	s.restrictions = cache.New(func(ctx context.Context, _ string) (model.Restrictions, error) {
		return opts.API.Restrictions(ctx)
	}, func(k string) string { return k }, cache.Options{TTL: restrictionsTTL})
	s.portfolio = portfolio.NewReconciler(
		portfolio.NewRemoteSource(opts.API, s.loans),
		portfolio.Options{DryRun: opts.Info.DryRun, SyntheticMaxAge: opts.SyntheticMaxAge},
		logger,
	)
	s.available.Store(true)
	return s
}

func (s *Session) Info() Info { return s.info }
func (s *Session) API() API { return s.api }
func (s *Session) Portfolio() *portfolio.Reconciler { return s.portfolio }
func (s *Session) Strategies() *strategy.Source { return s.strategies }
func (s *Session) State() marketplace.StateStore { return s.state }
func (s *Session) Events() *events.Registry { return s.events }
func (s *Session) Logger() zerolog.Logger { return s.logger }
func (s *Session) Loans() *cache.Cache[int64, model.Loan] { return s.loans }

// Loan returns a loan through the session cache.
func (s *Session) Loan(ctx context.Context, id int64) (model.Loan, error) {
	return s.loans.Get(ctx, id)
}

// Restrictions returns the account restrictions through the session cache.
func (s *Session) Restrictions(ctx context.Context) (model.Restrictions, error) {
	return s.restrictions.Get(ctx, restrictionsKey)
}

// Fire stamps the event with the account and dry-run flag, then distributes it.
func (s *Session) Fire(ctx context.Context, e events.Event) {
	e.Account = s.info.Username
	e.DryRun = s.info.DryRun
	s.events.Fire(ctx, e)
}

// MarkSold remembers that the account sold its stake in loanID.
func (s *Session) MarkSold(loanID int64) {
	s.sold.Set(strconv.FormatInt(loanID, 10), true, gocache.NoExpiration)
}

// WasSold reports whether the account has ever sold its stake in loanID.
func (s *Session) WasSold(loanID int64) bool {
	_, ok := s.sold.Get(strconv.FormatInt(loanID, 10))
	return ok
}

// LoadSold reads previously sold investments from the remote, once per session.
func (s *Session) LoadSold(ctx context.Context) error {
	if s.soldLoaded.Load() {
		return nil
	}
	sold, err := remote.Collect[model.Investment](ctx, s.api.Investments(remote.NewSelect().Equals("status", "SOLD")))
	if err != nil {
		return fmt.Errorf("load sold investments: %w", err)
	}
	for _, inv := range sold {
		s.MarkSold(inv.LoanID)
	}
	s.soldLoaded.Store(true)
	s.logger.Debug().Int("sold", len(sold)).Msg("sold investments loaded")
	return nil
}

func actedKey(kind string, id int64) string {
	return kind + ":" + strconv.FormatInt(id, 10)
}

// MarkActed remembers that kind acted on item id, so it is not retried while the remote catches up.
func (s *Session) MarkActed(kind string, id int64) {
	s.acted.SetDefault(actedKey(kind, id), true)
}

// Acted reports whether kind already acted on id recently.
func (s *Session) Acted(kind string, id int64) bool {
	_, ok := s.acted.Get(actedKey(kind, id))
	return ok
}

// Available reports whether the remote API was reachable at the last liveness check.
func (s *Session) Available() bool {
	return s.available.Load()
}

// SetAvailable records the liveness result and reports whether it changed.
func (s *Session) SetAvailable(up bool) bool {
	return s.available.Swap(up) != up
}

// Close drops cached data.
func (s *Session) Close() {
	s.acted.Flush()
	s.sold.Flush()
	s.portfolio.Invalidate()
	s.logger.Debug().Msg("session closed")
}
