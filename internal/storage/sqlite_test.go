package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"autolender/internal/config"
	"autolender/internal/marketplace"
)

func openTestBackends(t *testing.T) map[string]Backend {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(sqlite.Close)
	return map[string]Backend{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestBackendStateRoundTrip(t *testing.T) {
	for name, backend := range openTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := backend.LoadState(ctx, "acc", "investing")
			require.ErrorIs(t, err, marketplace.ErrNoState)

			checked := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
			require.NoError(t, backend.SaveState(ctx, "acc", "investing", marketplace.State{LastCheck: checked, SeenIDs: []int64{3, 1}}))
			require.NoError(t, backend.SaveState(ctx, "acc", "investing", marketplace.State{LastCheck: checked.Add(time.Minute), SeenIDs: []int64{3, 1, 7}}))

			state, err := backend.LoadState(ctx, "acc", "investing")
			require.NoError(t, err)
			require.True(t, state.LastCheck.Equal(checked.Add(time.Minute)))
			require.Equal(t, []int64{3, 1, 7}, state.SeenIDs)

			_, err = backend.LoadState(ctx, "acc", "purchasing")
			require.ErrorIs(t, err, marketplace.ErrNoState)
		})
	}
}

func TestBackendOperations(t *testing.T) {
	for name, backend := range openTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
			reason := "INSUFFICIENT_BALANCE"
			require.NoError(t, backend.InsertOperation(ctx, Operation{Account: "acc", Kind: "investing", ItemID: 1, LoanID: 1, Rating: "A", Amount: decimal.RequireFromString("200.50"), Status: OperationExecuted, CreatedAt: base}))
			require.NoError(t, backend.InsertOperation(ctx, Operation{Account: "acc", Kind: "purchasing", ItemID: 2, LoanID: 5, Rating: "B", Amount: decimal.NewFromInt(80), Status: OperationRejected, Reason: &reason, DryRun: true, CreatedAt: base.Add(time.Hour)}))

			recent, err := backend.ListRecentOperations(ctx, 10)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			require.Equal(t, int64(2), recent[0].ItemID)
			require.Equal(t, reason, *recent[0].Reason)
			require.True(t, recent[0].DryRun)
			require.True(t, recent[1].Amount.Equal(decimal.RequireFromString("200.5")))

			window, err := backend.ListOperationsBetween(ctx, base, base.Add(30*time.Minute))
			require.NoError(t, err)
			require.Len(t, window, 1)
			require.Nil(t, window[0].Reason)
		})
	}
}

func TestAdvisoryKeyStable(t *testing.T) {
	require.Equal(t, AdvisoryKey("a@b.c"), AdvisoryKey("a@b.c"))
	require.NotEqual(t, AdvisoryKey("a@b.c"), AdvisoryKey("x@y.z"))
	require.GreaterOrEqual(t, AdvisoryKey("a@b.c"), int64(0))
}

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	_, err := s.LoadState(context.Background(), "acc", "investing")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, config.StorageConfig{Driver: "memory"})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, mem)

	lite, err := Open(ctx, config.StorageConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "state.db")})
	require.NoError(t, err)
	defer lite.Close()
	require.IsType(t, &SQLiteStore{}, lite)

	_, err = Open(ctx, config.StorageConfig{Driver: "postgres"})
	require.Error(t, err)
	_, err = Open(ctx, config.StorageConfig{Driver: "mongo"})
	require.Error(t, err)
}
