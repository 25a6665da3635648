package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"autolender/internal/events"
	"autolender/internal/marketplace"
	"autolender/internal/model"
	"autolender/internal/remote"
	"autolender/internal/session"
	"autolender/internal/session/sessiontest"
	"autolender/internal/storage"
	"autolender/internal/strategy"
)

const testRules = `
investing:
  enabled: true
  default_amount: 200
purchasing:
  enabled: true
selling:
  enabled: true
  ratings: [D]
ratings:
  A:
    target_share: 1
`

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	api      *sessiontest.API
	session  *session.Session
	recorder *events.Recorder
	store    *storage.MemoryStore
	clock    *fakeClock
}

func newHarness(t *testing.T, dryRun bool) *harness {
	t.Helper()
	rules, err := strategy.Parse([]byte(testRules))
	require.NoError(t, err)

	api := sessiontest.New()
	api.WalletState = model.Wallet{AvailableBalance: d(1000)}
	api.Limits = model.Restrictions{MinimumInvestmentAmount: d(200), InvestmentStep: d(200)}

	rec := &events.Recorder{}
	registry := events.NewRegistry(zerolog.Nop())
	registry.RegisterInline("recorder", rec)
	store := storage.NewMemoryStore()

	s := session.New(session.Options{
		Info:       session.Info{Username: "alice", DryRun: dryRun},
		API:        api,
		Strategies: strategy.Static(rules),
		State:      store,
		Events:     registry,
	}, zerolog.Nop())
	return &harness{
		api:      api,
		session:  s,
		recorder: rec,
		store:    store,
		clock:    &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func (h *harness) investing() *Executor[strategy.LoanDescriptor] {
	return NewExecutor[strategy.LoanDescriptor](Investing{}, h.session, ExecutorOptions{Clock: h.clock.Now}, zerolog.Nop())
}

func (h *harness) publish(loans ...model.Loan) {
	h.api.Lock()
	defer h.api.Unlock()
	h.api.Primary = append(h.api.Primary, loans...)
	for _, l := range loans {
		h.api.LoanByID[l.ID] = l
		h.api.LastPublished = model.LastPublishedLoan{ID: l.ID}
	}
}

func loan(id int64) model.Loan {
	return model.Loan{ID: id, Rating: model.RatingA, Amount: d(100000), RemainingInvestment: d(50000)}
}

func TestExecutorEndToEnd(t *testing.T) {
	h := newHarness(t, false)
	h.publish(loan(1))
	exec := h.investing()

	require.NoError(t, exec.Run(context.Background()))
	require.Equal(t, []events.Type{
		events.TypeStarted, events.TypeRecommended, events.TypeExecuted, events.TypeCompleted,
	}, h.recorder.Types())
	require.Equal(t, []string{"invest:1:200"}, h.api.Actions())

	executed := h.recorder.Events()[2]
	require.Equal(t, "alice", executed.Account)
	require.Equal(t, int64(1), executed.ItemID)
	require.True(t, executed.Amount.Equal(d(200)))

	balance, err := h.session.Portfolio().Balance(context.Background())
	require.NoError(t, err)
	require.True(t, balance.Equal(d(800)), balance.String())

	h.recorder.Reset()
	require.NoError(t, exec.Run(context.Background()))
	require.Empty(t, h.recorder.Events())
	require.Len(t, h.api.Actions(), 1)
	require.Equal(t, 1, h.api.Calls("loans"))
}

func TestExecutorRejectionContinues(t *testing.T) {
	h := newHarness(t, false)
	h.publish(loan(1), loan(2))
	h.api.Rejections[1] = remote.FailureAlreadyCovered

	require.NoError(t, h.investing().Run(context.Background()))
	require.Equal(t, []events.Type{
		events.TypeStarted,
		events.TypeRecommended, events.TypeRejected,
		events.TypeRecommended, events.TypeExecuted,
		events.TypeCompleted,
	}, h.recorder.Types())
	require.Equal(t, string(remote.FailureAlreadyCovered), h.recorder.Events()[2].Reason)
	require.Equal(t, 1, h.recorder.Events()[5].Items)
}

func TestExecutorUnexpectedErrorAbortsPass(t *testing.T) {
	h := newHarness(t, false)
	h.publish(loan(1), loan(2))
	boom := errors.New("boom")
	h.api.Failures[1] = boom
	exec := h.investing()

	err := exec.Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, []events.Type{events.TypeStarted, events.TypeRecommended}, h.recorder.Types())
	require.Equal(t, []string{"invest:1:200"}, h.api.Actions())

	h.api.Lock()
	delete(h.api.Failures, 1)
	h.api.Unlock()
	h.recorder.Reset()

	require.NoError(t, exec.Run(context.Background()))
	require.Equal(t, []string{"invest:1:200", "invest:1:200", "invest:2:200"}, h.api.Actions())
	require.Equal(t, events.TypeCompleted, h.recorder.Types()[len(h.recorder.Types())-1])
}

func TestExecutorDryRunNeverCallsRemote(t *testing.T) {
	h := newHarness(t, true)
	h.publish(loan(1))

	require.NoError(t, h.investing().Run(context.Background()))
	require.Equal(t, 0, h.api.Calls("invest"))
	require.Contains(t, h.recorder.Types(), events.TypeExecuted)
	require.True(t, h.recorder.Events()[0].DryRun)
	require.Len(t, h.session.Portfolio().Synthetics(), 1)
}

func TestExecutorIdleStates(t *testing.T) {
	t.Run("restricted", func(t *testing.T) {
		h := newHarness(t, false)
		h.publish(loan(1))
		h.api.Limits.CannotInvest = true
		require.NoError(t, h.investing().Run(context.Background()))
		require.Empty(t, h.recorder.Events())
		require.Zero(t, h.api.Calls("loans"))
	})
	t.Run("no strategy", func(t *testing.T) {
		h := newHarness(t, false)
		h.publish(loan(1))
		s := session.New(session.Options{Info: session.Info{Username: "bob"}, API: h.api}, zerolog.Nop())
		exec := NewExecutor[strategy.LoanDescriptor](Investing{}, s, ExecutorOptions{}, zerolog.Nop())
		require.NoError(t, exec.Run(context.Background()))
		require.Zero(t, h.api.Calls("loans"))
	})
	t.Run("balance below minimum", func(t *testing.T) {
		h := newHarness(t, false)
		h.publish(loan(1))
		h.api.WalletState.AvailableBalance = d(100)
		require.NoError(t, h.investing().Run(context.Background()))
		require.Zero(t, h.api.Calls("last_published"))
		require.Zero(t, h.api.Calls("loans"))
	})
	t.Run("marketplace down", func(t *testing.T) {
		h := newHarness(t, false)
		h.publish(loan(1))
		exec := h.investing()
		_, err := h.session.Restrictions(context.Background())
		require.NoError(t, err)
		_, err = h.session.Portfolio().Balance(context.Background())
		require.NoError(t, err)
		h.api.Down = errors.New("offline")
		require.NoError(t, exec.Run(context.Background()))
		require.Empty(t, h.recorder.Events())
	})
}

func TestExecutorForcedChecks(t *testing.T) {
	h := newHarness(t, false)
	h.publish(loan(1))
	exec := h.investing()
	require.NoError(t, exec.Run(context.Background()))
	require.Equal(t, 1, h.api.Calls("loans"))

	h.clock.Advance(2 * time.Minute)
	require.NoError(t, exec.Run(context.Background()))
	require.Equal(t, 2, h.api.Calls("loans"), "stale full read forces a check")

	h.api.Lock()
	h.api.WalletState.AvailableBalance = d(5000)
	h.api.Unlock()
	h.session.Portfolio().Invalidate()
	require.NoError(t, exec.Run(context.Background()))
	require.Equal(t, 3, h.api.Calls("loans"), "balance increase forces a check")

	require.NoError(t, exec.Run(context.Background()))
	require.Equal(t, 3, h.api.Calls("loans"))
}

func TestExecutorListingOutageKeepsAdditionsPending(t *testing.T) {
	h := newHarness(t, false)
	h.publish(loan(1))
	exec := h.investing()
	require.NoError(t, exec.Run(context.Background()))
	require.Equal(t, []string{"invest:1:200"}, h.api.Actions())

	h.publish(loan(2))
	h.api.Lock()
	h.api.Outages["loans"] = errors.New("listing unavailable")
	h.api.Unlock()
	require.NoError(t, exec.Run(context.Background()))
	require.Len(t, h.api.Actions(), 1)

	h.api.Lock()
	delete(h.api.Outages, "loans")
	h.api.Unlock()
	require.NoError(t, exec.Run(context.Background()))
	require.Equal(t, []string{"invest:1:200", "invest:2:200"}, h.api.Actions())
}

func TestExecutorTracksBalanceWhileIdle(t *testing.T) {
	h := newHarness(t, false)
	h.publish(loan(1))
	exec := h.investing()
	require.NoError(t, exec.Run(context.Background()))
	require.Equal(t, 1, h.api.Calls("loans"))

	h.api.Lock()
	h.api.WalletState.AvailableBalance = d(100)
	h.api.Unlock()
	h.session.Portfolio().Invalidate()
	require.NoError(t, exec.Run(context.Background()))
	require.Equal(t, 1, h.api.Calls("loans"), "below minimum stays idle")

	// still below the first pass's balance, but above the idle one
	h.api.Lock()
	h.api.WalletState.AvailableBalance = d(600)
	h.api.Unlock()
	h.session.Portfolio().Invalidate()
	require.NoError(t, exec.Run(context.Background()))
	require.Equal(t, 2, h.api.Calls("loans"), "growth since the idle pass forces a check")
}

func TestExecutorRestoresStateAfterRestart(t *testing.T) {
	h := newHarness(t, false)
	h.publish(loan(1))
	require.NoError(t, h.investing().Run(context.Background()))

	state, err := h.store.LoadState(context.Background(), "alice", string(KindInvesting))
	require.NoError(t, err)
	require.Equal(t, []int64{1}, state.SeenIDs)
	require.Equal(t, h.clock.Now(), state.LastCheck)

	restarted := h.investing()
	h.recorder.Reset()
	require.NoError(t, restarted.Run(context.Background()))
	require.Empty(t, h.recorder.Events())
	require.Equal(t, 1, h.api.Calls("loans"))
}

func TestPurchasingFiltersMarketplace(t *testing.T) {
	h := newHarness(t, false)
	h.api.Sold = []model.Investment{{ID: 90, LoanID: 30}}
	h.api.Secondary = []model.Participation{
		{ID: 1, LoanID: 10, Rating: model.RatingA, Price: d(100), LoanHealth: model.HealthHealthy},
		{ID: 2, LoanID: 20, Rating: model.RatingA, Price: d(100), LoanHealth: model.HealthCurrentlyInDue},
		{ID: 3, LoanID: 30, Rating: model.RatingA, Price: d(100), LoanHealth: model.HealthHealthy},
		{ID: 4, LoanID: 40, Rating: model.RatingA, Price: d(5000), LoanHealth: model.HealthHealthy},
		{ID: 5, LoanID: 50, Rating: model.RatingA, Price: d(100), LoanHealth: model.HealthHealthy, WillExceedLoanInvestmentLimit: true},
	}
	exec := NewExecutor[strategy.ParticipationDescriptor](Purchasing{}, h.session, ExecutorOptions{Clock: h.clock.Now}, zerolog.Nop())

	require.NoError(t, exec.Run(context.Background()))
	require.Equal(t, []string{"purchase:1:100"}, h.api.Actions())
	require.Equal(t, 1, h.recorder.Events()[0].Items)

	synthetics := h.session.Portfolio().Synthetics()
	require.Len(t, synthetics, 1)
	require.Equal(t, int64(10), synthetics[0].LoanID)
}

func TestSellingOffersConfiguredRatings(t *testing.T) {
	h := newHarness(t, false)
	h.api.WalletState.AvailableBalance = decimal.Zero
	h.api.Owned = []model.Investment{
		{ID: 1, LoanID: 11, Rating: model.RatingD, SmpPrice: d(50), RemainingPrincipal: d(60), CanBeOffered: true},
		{ID: 2, LoanID: 12, Rating: model.RatingD, SmpPrice: d(50), CanBeOffered: true, OnSmp: true},
		{ID: 3, LoanID: 13, Rating: model.RatingA, SmpPrice: d(50), CanBeOffered: true},
	}
	exec := NewExecutor[strategy.InvestmentDescriptor](Selling{}, h.session, ExecutorOptions{Clock: h.clock.Now}, zerolog.Nop())

	require.NoError(t, exec.Run(context.Background()))
	require.Equal(t, []string{"sell:1:50"}, h.api.Actions())
	require.True(t, h.session.WasSold(11))
	require.Empty(t, h.session.Portfolio().Synthetics())
}

func TestNewRunnerDispatchesOnKind(t *testing.T) {
	h := newHarness(t, false)
	runners, err := NewRunners(Kinds(), h.session, ExecutorOptions{}, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, runners, 3)
	for i, kind := range Kinds() {
		require.Equal(t, kind, runners[i].Kind())
	}

	_, err = NewRunner(Kind("lending"), h.session, ExecutorOptions{}, zerolog.Nop())
	require.Error(t, err)

	kind, err := ParseKind("selling")
	require.NoError(t, err)
	require.Equal(t, KindSelling, kind)
	_, err = ParseKind("")
	require.Error(t, err)
}

var _ marketplace.StateStore = (*storage.MemoryStore)(nil)
