// Package portfolio reconciles the remote view of the account with the charges
// the robot has made but the remote has not reported yet.
package portfolio

import (
	"context"
	"maps"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"autolender/internal/model"
)

// DefaultSyntheticMaxAge bounds how long a charge is assumed to be missing from remote data.
const DefaultSyntheticMaxAge = 5 * time.Minute

// Synthetic is a locally recorded charge awaiting confirmation by the remote.
type Synthetic struct {
	LoanID     int64
	Rating     model.Rating
	Amount     decimal.Decimal
	RecordedAt time.Time
}

// Options tune the reconciler.
type Options struct {
	// DryRun keeps synthetics forever since the remote will never see them.
	DryRun          bool
	SyntheticMaxAge time.Duration
	Clock           func() time.Time
}

// Reconciler merges remote portfolio data with synthetic charges.
// Every read works on one captured snapshot of both.
type Reconciler struct {
	source     Source
	dryRun     bool
	maxAge     time.Duration
	now        func() time.Time
	logger     zerolog.Logger
	data       atomic.Pointer[RemoteData]
	overview   atomic.Pointer[Overview]
	synthetics atomic.Pointer[map[int64]Synthetic]
	generation atomic.Uint64
	flight     singleflight.Group
}

// NewReconciler constructs a cold reconciler; nothing is fetched until first use.
func NewReconciler(source Source, opts Options, logger zerolog.Logger) *Reconciler {
	maxAge := opts.SyntheticMaxAge
	if maxAge <= 0 {
		maxAge = DefaultSyntheticMaxAge
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	r := &Reconciler{
		source: source,
		dryRun: opts.DryRun,
		maxAge: maxAge,
		now:    now,
		logger: logger.With().Str("component", "portfolio").Logger(),
	}
	empty := make(map[int64]Synthetic)
	r.synthetics.Store(&empty)
	return r
}

// Refresh reloads remote data and purges synthetics the remote now accounts for.
func (r *Reconciler) Refresh(ctx context.Context) error {
	_, err := r.load(ctx)
	return err
}

// Invalidate forgets remote data and the overview; the next read reloads.
func (r *Reconciler) Invalidate() {
	r.generation.Add(1)
	r.data.Store(nil)
	r.overview.Store(nil)
}

// Record registers a charge the remote does not know about yet.
// Charges against a loan that is still pending add up: one pass may buy several
// participations of the same loan, and each of them leaves the balance.
func (r *Reconciler) Record(loanID int64, rating model.Rating, amount decimal.Decimal) {
	recordedAt := r.now()
	r.updateSynthetics(func(m map[int64]Synthetic) {
		s, ok := m[loanID]
		if !ok {
			s = Synthetic{LoanID: loanID, Rating: rating}
		}
		s.Amount = s.Amount.Add(amount)
		s.RecordedAt = recordedAt
		m[loanID] = s
	})
	r.Invalidate()
	r.logger.Debug().Int64("loan_id", loanID).Str("rating", rating.String()).Str("amount", amount.String()).Msg("synthetic charge recorded")
}

// Synthetics returns the charges not yet confirmed by the remote.
func (r *Reconciler) Synthetics() []Synthetic {
	current := *r.synthetics.Load()
	out := make([]Synthetic, 0, len(current))
	for _, s := range current {
		out = append(out, s)
	}
	return out
}

// Overview returns the cached overview or builds one from a fresh snapshot.
func (r *Reconciler) Overview(ctx context.Context) (Overview, error) {
	if o := r.overview.Load(); o != nil {
		return *o, nil
	}
	gen := r.generation.Load()
	data, err := r.current(ctx)
	if err != nil {
		return Overview{}, err
	}
	o := r.compute(data, *r.synthetics.Load())
	if r.generation.Load() == gen {
		r.overview.CompareAndSwap(nil, &o)
	}
	return o, nil
}

// Totals returns the invested amount per rating.
func (r *Reconciler) Totals(ctx context.Context) (map[model.Rating]decimal.Decimal, error) {
	o, err := r.Overview(ctx)
	if err != nil {
		return nil, err
	}
	return o.Totals, nil
}

// Balance returns the available balance reduced by unconfirmed charges.
func (r *Reconciler) Balance(ctx context.Context) (decimal.Decimal, error) {
	o, err := r.Overview(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return o.Balance, nil
}

func (r *Reconciler) compute(data *RemoteData, synthetics map[int64]Synthetic) Overview {
	totals := make(map[model.Rating]decimal.Decimal, len(model.Ratings()))
	total := decimal.Zero
	for _, rating := range model.Ratings() {
		sum := data.Outstanding[rating].Add(data.Blocked[rating])
		totals[rating] = sum
		total = total.Add(sum)
	}
	balance := data.Balance
	for _, s := range synthetics {
		if !r.stillPending(s, data) {
			continue
		}
		totals[s.Rating] = totals[s.Rating].Add(s.Amount)
		total = total.Add(s.Amount)
		balance = balance.Sub(s.Amount)
	}
	return Overview{Totals: totals, Total: total, Balance: balance, CreatedAt: r.now()}
}

func (r *Reconciler) current(ctx context.Context) (*RemoteData, error) {
	if d := r.data.Load(); d != nil {
		return d, nil
	}
	return r.load(ctx)
}

func (r *Reconciler) load(ctx context.Context) (*RemoteData, error) {
	res, err, _ := r.flight.Do("load", func() (any, error) {
		gen := r.generation.Load()
		data, err := r.source.Load(ctx)
		if err != nil {
			return nil, err
		}
		r.purge(&data)
		r.overview.Store(nil)
		if r.generation.Load() == gen {
			r.data.Store(&data)
		}
		return &data, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*RemoteData), nil
}

func (r *Reconciler) purge(data *RemoteData) {
	removed := 0
	r.updateSynthetics(func(m map[int64]Synthetic) {
		removed = 0
		for id, s := range m {
			if !r.stillPending(s, data) {
				delete(m, id)
				removed++
			}
		}
	})
	if removed > 0 {
		r.logger.Debug().Int("purged", removed).Msg("synthetic charges confirmed by remote")
	}
}

// stillPending decides whether a synthetic must still be added on top of data.
func (r *Reconciler) stillPending(s Synthetic, data *RemoteData) bool {
	if r.dryRun {
		return true
	}
	if data.Accounts(s.LoanID) {
		return false
	}
	return data.FetchedAt.Sub(s.RecordedAt) < r.maxAge
}

func (r *Reconciler) updateSynthetics(mutate func(map[int64]Synthetic)) {
	for {
		old := r.synthetics.Load()
		next := maps.Clone(*old)
		mutate(next)
		if r.synthetics.CompareAndSwap(old, &next) {
			return
		}
	}
}
