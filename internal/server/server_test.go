package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"autolender/internal/model"
	"autolender/internal/remote"
	"autolender/internal/session"
	"autolender/internal/session/sessiontest"
)

func newTestServer(t *testing.T) (*Server, *session.Session, *prometheus.Registry) {
	t.Helper()
	api := sessiontest.New()
	api.WalletState = model.Wallet{AvailableBalance: decimal.NewFromInt(1000)}
	api.Stats = model.Statistics{RiskPortfolio: []model.RiskPortfolio{
		{Rating: model.RatingA, Due: decimal.NewFromInt(300), Unpaid: decimal.NewFromInt(200)},
	}}
	s := session.New(session.Options{Info: session.Info{Username: "alice"}, API: api}, zerolog.Nop())

	reg := prometheus.NewRegistry()
	remote.NewMetrics(reg)
	return New(":0", s, reg, zerolog.Nop()), s, reg
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyFollowsLiveness(t *testing.T) {
	srv, s, _ := newTestServer(t)
	h := srv.Handler()

	require.Equal(t, http.StatusOK, get(t, h, "/ready").Code)
	s.SetAvailable(false)
	require.Equal(t, http.StatusServiceUnavailable, get(t, h, "/ready").Code)
}

func TestPortfolio(t *testing.T) {
	srv, s, _ := newTestServer(t)
	s.Portfolio().Record(7, model.RatingB, decimal.NewFromInt(200))

	rec := get(t, srv.Handler(), "/portfolio")
	require.Equal(t, http.StatusOK, rec.Code)

	var view portfolioView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "alice", view.Account)
	require.True(t, view.Balance.Equal(decimal.NewFromInt(800)), view.Balance.String())
	require.True(t, view.Totals[model.RatingA].Equal(decimal.NewFromInt(500)))
	require.True(t, view.Totals[model.RatingB].Equal(decimal.NewFromInt(200)))
	require.Len(t, view.Synthetics, 1)
	require.Equal(t, int64(7), view.Synthetics[0].LoanID)
}

func TestMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
