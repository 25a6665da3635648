// Package server exposes health, readiness, portfolio and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"autolender/internal/model"
	"autolender/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const readHeaderTimeout = 5 * time.Second

// Server serves the status endpoints for one session.
type Server struct {
	listen   string
	session  *session.Session
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
}

// New constructs a server. A nil gatherer serves the default registry.
func New(listen string, s *session.Session, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		listen:   listen,
		session:  s,
		gatherer: gatherer,
		logger:   logger.With().Str("component", "server").Logger(),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.healthz)
	r.Get("/ready", s.ready)
	r.Get("/portfolio", s.portfolio)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("shutdown status server")
		}
	}()

	s.logger.Info().Str("listen", s.listen).Msg("status server started")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve status: %w", err)
	}
	s.logger.Info().Msg("status server stopped")
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ready(w http.ResponseWriter, _ *http.Request) {
	if !s.session.Available() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "suspended"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type syntheticView struct {
	LoanID     int64           `json:"loanId"`
	Rating     model.Rating    `json:"rating"`
	Amount     decimal.Decimal `json:"amount"`
	RecordedAt time.Time       `json:"recordedAt"`
}

type portfolioView struct {
	Account    string                           `json:"account"`
	DryRun     bool                             `json:"dryRun"`
	Balance    decimal.Decimal                  `json:"balance"`
	Total      decimal.Decimal                  `json:"total"`
	Totals     map[model.Rating]decimal.Decimal `json:"totals"`
	Synthetics []syntheticView                  `json:"synthetics"`
	CreatedAt  time.Time                        `json:"createdAt"`
}

func (s *Server) portfolio(w http.ResponseWriter, r *http.Request) {
	reconciler := s.session.Portfolio()
	overview, err := reconciler.Overview(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	view := portfolioView{
		Account:    s.session.Info().Username,
		DryRun:     s.session.Info().DryRun,
		Balance:    overview.Balance,
		Total:      overview.Total,
		Totals:     make(map[model.Rating]decimal.Decimal),
		Synthetics: []syntheticView{},
		CreatedAt:  overview.CreatedAt,
	}
	for rating, amount := range overview.Totals {
		if !amount.IsZero() {
			view.Totals[rating] = amount
		}
	}
	for _, syn := range reconciler.Synthetics() {
		view.Synthetics = append(view.Synthetics, syntheticView{
			LoanID: syn.LoanID, Rating: syn.Rating, Amount: syn.Amount, RecordedAt: syn.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(started)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request served")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
