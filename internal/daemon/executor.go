package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"autolender/internal/events"
	"autolender/internal/marketplace"
	"autolender/internal/remote"
	"autolender/internal/session"
	"autolender/internal/strategy"
)

// DefaultForcedCheckAfter is how long a marketplace may go without a full read.
const DefaultForcedCheckAfter = time.Minute

// ExecutorOptions tune every executor.
type ExecutorOptions struct {
	ForcedCheckAfter time.Duration
	Clock            func() time.Time
}

// Executor runs one operation kind for one session. Runs of the same executor must not overlap.
type Executor[T any] struct {
	descriptor  Descriptor[T]
	session     *session.Session
	detector    *marketplace.Detector
	forcedAfter time.Duration
	now         func() time.Time
	logger      zerolog.Logger

	seeded      atomic.Bool
	lastBalance atomic.Pointer[decimal.Decimal]
	lastFull    atomic.Pointer[time.Time]
}

var _ Runner = (*Executor[strategy.LoanDescriptor])(nil)

// NewExecutor binds descriptor to a session.
func NewExecutor[T any](d Descriptor[T], s *session.Session, opts ExecutorOptions, logger zerolog.Logger) *Executor[T] {
	forced := opts.ForcedCheckAfter
	if forced <= 0 {
		forced = DefaultForcedCheckAfter
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Executor[T]{
		descriptor:  d,
		session:     s,
		detector:    marketplace.NewDetector(),
		forcedAfter: forced,
		now:         now,
		logger:      logger.With().Str("component", "executor").Str("kind", string(d.Kind())).Logger(),
	}
}

func (e *Executor[T]) Kind() Kind {
	return e.descriptor.Kind()
}

// Run performs one pass: gate, detect, evaluate, then act on recommendations in order.
// Business rejections are reported and skipped. Any other failure while acting aborts the pass.
func (e *Executor[T]) Run(ctx context.Context) error {
	restrictions, err := e.session.Restrictions(ctx)
	if err != nil {
		return fmt.Errorf("load restrictions: %w", err)
	}
	if !e.descriptor.Enabled(restrictions) {
		e.logger.Debug().Msg("disabled by account restrictions")
		return nil
	}
	strat, ok := e.descriptor.Strategy(e.session)
	if !ok {
		e.logger.Debug().Msg("no strategy, idle")
		return nil
	}
	if strat == nil {
		return fmt.Errorf("%s: %w", e.Kind(), ErrNoStrategyContext)
	}
	e.seed(ctx)

	balance, err := e.session.Portfolio().Balance(ctx)
	if err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	forced := e.forced(balance)
	if minimum := e.descriptor.MinimumBalance(restrictions); balance.LessThan(minimum) {
		e.logger.Debug().Str("balance", balance.String()).Str("minimum", minimum.String()).Msg("balance below minimum, idle")
		return nil
	}

	accessor := e.descriptor.NewAccessor(e.session, e.detector)
	baseline := e.detector.Current()
	changed, err := accessor.HasUpdates(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("marketplace unavailable, assuming no updates")
		return nil
	}
	if !changed && !forced {
		e.logger.Trace().Msg("marketplace unchanged")
		return nil
	}
	items, err := accessor.Marketplace(ctx)
	if err != nil {
		// the additions were detected but never read; keep them pending for the next pass
		e.detector.Seed(baseline)
		e.logger.Warn().Err(err).Msg("marketplace unavailable, assuming no updates")
		return nil
	}
	checkedAt := e.now()
	e.lastFull.Store(&checkedAt)
	if len(items) == 0 {
		e.persist(ctx, checkedAt)
		return nil
	}

	if err := e.evaluate(ctx, strat, items, balance); err != nil {
		// forget the baseline so the next pass looks at the same items again
		e.detector.Seed(nil)
		return err
	}
	e.persist(ctx, checkedAt)
	return nil
}

func (e *Executor[T]) evaluate(ctx context.Context, strat strategy.Strategy[T], items []T, balance decimal.Decimal) error {
	kind := string(e.Kind())
	restrictions, err := e.session.Restrictions(ctx)
	if err != nil {
		return fmt.Errorf("load restrictions: %w", err)
	}
	overview, err := e.session.Portfolio().Overview(ctx)
	if err != nil {
		return fmt.Errorf("load portfolio: %w", err)
	}

	e.session.Fire(ctx, events.Event{Type: events.TypeStarted, Kind: kind, Items: len(items), Balance: balance})
	recommendations := strat.Recommend(items, overview, restrictions)
	e.logger.Debug().Int("items", len(items)).Int("recommended", len(recommendations)).Msg("strategy evaluated")

	executed := 0
	for _, rec := range recommendations {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := e.descriptor.Identify(rec.Item)
		base := events.Event{Kind: kind, ItemID: id.ID, LoanID: id.LoanID, Rating: id.Rating, Amount: rec.Amount}

		recommended := base
		recommended.Type = events.TypeRecommended
		e.session.Fire(ctx, recommended)

		outcome := remote.Success
		if !e.session.Info().DryRun {
			outcome, err = e.descriptor.Perform(ctx, e.session, rec)
			if err != nil {
				e.logger.Error().Err(err).Int64("item", id.ID).Msg("operation failed, aborting pass")
				return fmt.Errorf("%s item %d: %w", kind, id.ID, err)
			}
		}
		if !outcome.OK() {
			rejected := base
			rejected.Type = events.TypeRejected
			rejected.Reason = string(outcome.Failure)
			e.session.Fire(ctx, rejected)
			continue
		}

		e.descriptor.Commit(e.session, rec)
		e.session.MarkActed(kind, id.ID)
		executed++
		done := base
		done.Type = events.TypeExecuted
		e.session.Fire(ctx, done)
	}

	after, err := e.session.Portfolio().Balance(ctx)
	if err != nil {
		after = balance
	}
	e.session.Fire(ctx, events.Event{Type: events.TypeCompleted, Kind: kind, Items: executed, Balance: after})
	return nil
}

// forced reports whether detection must be bypassed: the balance grew since the last pass,
// or the marketplace has not been read in full for too long.
func (e *Executor[T]) forced(balance decimal.Decimal) bool {
	prev := e.lastBalance.Swap(&balance)
	if prev != nil && balance.GreaterThan(*prev) {
		e.logger.Debug().Str("balance", balance.String()).Msg("balance increased, forcing check")
		return true
	}
	last := e.lastFull.Load()
	return last == nil || e.now().Sub(*last) >= e.forcedAfter
}

func (e *Executor[T]) seed(ctx context.Context) {
	if e.seeded.Swap(true) {
		return
	}
	store := e.session.State()
	if store == nil {
		return
	}
	state, err := store.LoadState(ctx, e.session.Info().Username, string(e.Kind()))
	switch {
	case errors.Is(err, marketplace.ErrNoState):
		return
	case err != nil:
		e.logger.Warn().Err(err).Msg("load marketplace state")
		return
	}
	e.detector.Seed(state.SeenIDs)
	if !state.LastCheck.IsZero() {
		last := state.LastCheck
		e.lastFull.Store(&last)
	}
	e.logger.Debug().Int("seen", len(state.SeenIDs)).Time("last_check", state.LastCheck).Msg("marketplace state restored")
}

func (e *Executor[T]) persist(ctx context.Context, checkedAt time.Time) {
	store := e.session.State()
	if store == nil {
		return
	}
	state := marketplace.State{LastCheck: checkedAt, SeenIDs: e.detector.Current()}
	if err := store.SaveState(ctx, e.session.Info().Username, string(e.Kind()), state); err != nil {
		e.logger.Warn().Err(err).Msg("save marketplace state")
	}
}
