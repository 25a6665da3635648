package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"autolender/internal/config"
	"autolender/internal/storage"
)

const onceRules = `
investing:
  enabled: true
  default_amount: 200
ratings:
  A:
    target_share: 1
`

func fakeMarketplace(t *testing.T, invests *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	reply := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}
	}
	mux.HandleFunc("GET /users/me/restrictions", reply(`{"minimumInvestmentAmount":200,"maximumInvestmentAmount":5000,"investmentStep":200}`))
	mux.HandleFunc("GET /users/me/wallet", reply(`{"availableBalance":1000,"blockedAmounts":[]}`))
	mux.HandleFunc("GET /portfolio/statistics", reply(`{"riskPortfolio":[]}`))
	mux.HandleFunc("GET /loans/last-published", reply(`{"id":1}`))
	mux.HandleFunc("GET /loans/marketplace", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Total", "1")
		reply(`[{"id":1,"name":"Kitchen","rating":"A","amount":100000,"remainingInvestment":50000}]`)(w, r)
	})
	mux.HandleFunc("POST /marketplace/investment", func(w http.ResponseWriter, _ *http.Request) {
		invests.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	rules := filepath.Join(t.TempDir(), "strategy.yaml")
	require.NoError(t, os.WriteFile(rules, []byte(onceRules), 0o600))
	return &config.Config{
		App:      config.AppConfig{Account: "alice"},
		Storage:  config.StorageConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "state.db")},
		Remote:   config.RemoteConfig{BaseURL: baseURL, MaxAttempts: 1, PageSize: 10, RequestTimeout: 5 * time.Second},
		Daemon:   config.DaemonConfig{Operations: []string{"investing"}, Workers: 1},
		Strategy: config.StrategyConfig{Path: rules},
		Export:   config.ExportConfig{MaxRows: 100},
	}
}

func TestOnceDryRunDoesNotInvest(t *testing.T) {
	var invests atomic.Int32
	srv := fakeMarketplace(t, &invests)
	a := NewApp(testConfig(t, srv.URL), zerolog.Nop())

	var out bytes.Buffer
	require.NoError(t, a.Once(context.Background(), OnceOptions{}, &out))
	require.Zero(t, invests.Load())
	require.Contains(t, out.String(), "executed")
	require.Contains(t, out.String(), "2 item events (dry run)")
}

func TestOnceCommitInvestsAndAudits(t *testing.T) {
	var invests atomic.Int32
	srv := fakeMarketplace(t, &invests)
	a := NewApp(testConfig(t, srv.URL), zerolog.Nop())

	var out bytes.Buffer
	require.NoError(t, a.Once(context.Background(), OnceOptions{Commit: true}, &out))
	require.Equal(t, int32(1), invests.Load())
	require.Contains(t, out.String(), "(live)")

	var status bytes.Buffer
	require.NoError(t, a.Status(context.Background(), StatusOptions{Limit: 10}, &status))
	require.Contains(t, status.String(), "investing")
	require.Contains(t, status.String(), "200.00")
}

func TestStatusWithoutOperations(t *testing.T) {
	a := NewApp(testConfig(t, "http://127.0.0.1:0"), zerolog.Nop())
	var out bytes.Buffer
	require.NoError(t, a.Status(context.Background(), StatusOptions{Limit: 5}, &out))
	require.Equal(t, "no operations found\n", out.String())
}

func TestExportWritesCSVAndPNG(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	ctx := context.Background()

	backend, err := storage.Open(ctx, cfg.Storage)
	require.NoError(t, err)
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	reason := "ALREADY_COVERED"
	for i, op := range []storage.Operation{
		{Account: "alice", Kind: "investing", ItemID: 1, LoanID: 1, Rating: "A", Amount: decimal.NewFromInt(200), Status: storage.OperationExecuted},
		{Account: "alice", Kind: "investing", ItemID: 2, LoanID: 2, Rating: "B", Amount: decimal.NewFromInt(400), Status: storage.OperationExecuted},
		{Account: "alice", Kind: "purchasing", ItemID: 3, LoanID: 9, Rating: "A", Amount: decimal.NewFromInt(50), Status: storage.OperationRejected, Reason: &reason},
	} {
		op.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, backend.InsertOperation(ctx, op))
	}
	backend.Close()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "ops.csv")
	pngPath := filepath.Join(dir, "out", "ops.png")
	a := NewApp(cfg, zerolog.Nop())
	require.NoError(t, a.Export(ctx, ExportOptions{CSVPath: csvPath, PNGPath: pngPath}))

	raw, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "created_at,account,kind"))
	require.Contains(t, lines[3], "ALREADY_COVERED")

	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestExportRequiresOutput(t *testing.T) {
	a := NewApp(testConfig(t, "http://127.0.0.1:0"), zerolog.Nop())
	require.Error(t, a.Export(context.Background(), ExportOptions{}))
}

func TestLatestKeepsNewest(t *testing.T) {
	ops := []storage.Operation{{ID: 1}, {ID: 2}, {ID: 3}}
	require.Equal(t, []int64{2, 3}, []int64{latest(ops, 2)[0].ID, latest(ops, 2)[1].ID})
	require.Len(t, latest(ops, 0), 3)
}
