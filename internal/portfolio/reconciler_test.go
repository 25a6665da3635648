package portfolio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"autolender/internal/model"
)

type fakeSource struct {
	mu    sync.Mutex
	data  RemoteData
	err   error
	loads atomic.Int32
}

func (f *fakeSource) Load(context.Context) (RemoteData, error) {
	f.loads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return RemoteData{}, f.err
	}
	out := f.data
	out.BlockedLoans = make(map[int64]struct{}, len(f.data.BlockedLoans))
	for k := range f.data.BlockedLoans {
		out.BlockedLoans[k] = struct{}{}
	}
	return out, nil
}

func (f *fakeSource) set(mutate func(*RemoteData)) {
	f.mu.Lock()
	mutate(&f.data)
	f.mu.Unlock()
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newSource(now time.Time) *fakeSource {
	return &fakeSource{data: RemoteData{
		Outstanding:  map[model.Rating]decimal.Decimal{model.RatingA: d(1000), model.RatingB: d(500)},
		Blocked:      map[model.Rating]decimal.Decimal{},
		BlockedLoans: map[int64]struct{}{},
		Balance:      d(10000),
		FetchedAt:    now,
	}}
}

func TestReconcilerIsColdUntilFirstRead(t *testing.T) {
	src := newSource(time.Now())
	r := NewReconciler(src, Options{}, zerolog.Nop())
	require.EqualValues(t, 0, src.loads.Load())

	o, err := r.Overview(context.Background())
	require.NoError(t, err)
	require.True(t, o.Total.Equal(d(1500)))
	require.EqualValues(t, 1, src.loads.Load())

	_, err = r.Overview(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, src.loads.Load())
}

func TestReconcilerChargeCountedExactlyOnce(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	src := newSource(now)
	r := NewReconciler(src, Options{Clock: func() time.Time { return now }}, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, r.Refresh(ctx))
	r.Record(77, model.RatingA, d(200))

	totals, err := r.Totals(ctx)
	require.NoError(t, err)
	require.True(t, totals[model.RatingA].Equal(d(1200)), totals[model.RatingA].String())
	balance, err := r.Balance(ctx)
	require.NoError(t, err)
	require.True(t, balance.Equal(d(9800)))

	// the remote catches up and reports the reservation itself
	src.set(func(data *RemoteData) {
		data.Blocked[model.RatingA] = d(200)
		data.BlockedLoans[77] = struct{}{}
		data.Balance = d(9800)
	})
	require.NoError(t, r.Refresh(ctx))

	totals, err = r.Totals(ctx)
	require.NoError(t, err)
	require.True(t, totals[model.RatingA].Equal(d(1200)), totals[model.RatingA].String())
	require.Empty(t, r.Synthetics())
	balance, err = r.Balance(ctx)
	require.NoError(t, err)
	require.True(t, balance.Equal(d(9800)))
}

func TestReconcilerSumsChargesAgainstOneLoan(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	src := newSource(now)
	r := NewReconciler(src, Options{Clock: func() time.Time { return now }}, zerolog.Nop())
	ctx := context.Background()

	r.Record(9, model.RatingB, d(100))
	r.Record(9, model.RatingB, d(150))

	synthetics := r.Synthetics()
	require.Len(t, synthetics, 1)
	require.True(t, synthetics[0].Amount.Equal(d(250)), synthetics[0].Amount.String())
	balance, err := r.Balance(ctx)
	require.NoError(t, err)
	require.True(t, balance.Equal(d(9750)), balance.String())

	// once the remote blocks the loan the whole pending sum goes away
	src.set(func(data *RemoteData) {
		data.Blocked[model.RatingB] = d(250)
		data.BlockedLoans[9] = struct{}{}
		data.Balance = d(9750)
	})
	require.NoError(t, r.Refresh(ctx))
	require.Empty(t, r.Synthetics())
	totals, err := r.Totals(ctx)
	require.NoError(t, err)
	require.True(t, totals[model.RatingB].Equal(d(750)), totals[model.RatingB].String())
}

func TestReconcilerPurgesStaleSyntheticsOutsideDryRun(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	src := newSource(now)
	r := NewReconciler(src, Options{Clock: func() time.Time { return now }}, zerolog.Nop())

	r.Record(5, model.RatingB, d(100))
	src.set(func(data *RemoteData) { data.FetchedAt = now.Add(10 * time.Minute) })
	require.NoError(t, r.Refresh(context.Background()))
	require.Empty(t, r.Synthetics())
}

func TestReconcilerKeepsSyntheticsInDryRun(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	src := newSource(now)
	r := NewReconciler(src, Options{DryRun: true, Clock: func() time.Time { return now }}, zerolog.Nop())

	r.Record(5, model.RatingB, d(100))
	src.set(func(data *RemoteData) { data.FetchedAt = now.Add(time.Hour) })
	require.NoError(t, r.Refresh(context.Background()))
	require.Len(t, r.Synthetics(), 1)

	totals, err := r.Totals(context.Background())
	require.NoError(t, err)
	require.True(t, totals[model.RatingB].Equal(d(600)))
}

func TestReconcilerConcurrentRecords(t *testing.T) {
	src := newSource(time.Now())
	r := NewReconciler(src, Options{DryRun: true}, zerolog.Nop())

	var wg sync.WaitGroup
	for i := range int64(20) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record(i, model.RatingA, d(10))
		}()
	}
	wg.Wait()

	o, err := r.Overview(context.Background())
	require.NoError(t, err)
	require.True(t, o.Total.Equal(d(1700)), o.Total.String())
	require.True(t, o.Share(model.RatingA).Equal(d(1200).Div(d(1700))))
}

func TestReconcilerSourceErrorPropagates(t *testing.T) {
	src := newSource(time.Now())
	src.err = errors.New("unavailable")
	r := NewReconciler(src, Options{}, zerolog.Nop())
	_, err := r.Overview(context.Background())
	require.Error(t, err)
}
