package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"autolender/internal/model"
)

// RemoteData is what the marketplace reports about the account at one point in time.
type RemoteData struct {
	Outstanding map[model.Rating]decimal.Decimal
	Blocked     map[model.Rating]decimal.Decimal
	// loans with money the remote has already reserved
	BlockedLoans map[int64]struct{}
	Balance      decimal.Decimal
	FetchedAt    time.Time
}

// Accounts reports whether the remote already reflects an operation on loanID.
func (d RemoteData) Accounts(loanID int64) bool {
	_, ok := d.BlockedLoans[loanID]
	return ok
}

// Source loads remote portfolio data.
type Source interface {
	Load(ctx context.Context) (RemoteData, error)
}

// API is the part of the marketplace client the remote source needs.
type API interface {
	Statistics(ctx context.Context) (model.Statistics, error)
	Wallet(ctx context.Context) (model.Wallet, error)
}

// LoanLookup resolves a loan, typically through the session loan cache.
type LoanLookup interface {
	Get(ctx context.Context, id int64) (model.Loan, error)
}

// RemoteSource combines statistics and wallet into RemoteData.
type RemoteSource struct {
	api   API
	loans LoanLookup
	now   func() time.Time
}

// NewRemoteSource constructs a RemoteSource.
func NewRemoteSource(api API, loans LoanLookup) *RemoteSource {
	return &RemoteSource{api: api, loans: loans, now: time.Now}
}

// Load fetches statistics and wallet concurrently, then rates every blocked amount.
func (s *RemoteSource) Load(ctx context.Context) (RemoteData, error) {
	var (
		stats  model.Statistics
		wallet model.Wallet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = s.api.Statistics(gctx)
		if err != nil {
			return fmt.Errorf("load statistics: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		wallet, err = s.api.Wallet(gctx)
		if err != nil {
			return fmt.Errorf("load wallet: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return RemoteData{}, err
	}

	data := RemoteData{
		Outstanding:  make(map[model.Rating]decimal.Decimal, len(stats.RiskPortfolio)),
		Blocked:      make(map[model.Rating]decimal.Decimal),
		BlockedLoans: make(map[int64]struct{}, len(wallet.Blocked)),
		Balance:      wallet.AvailableBalance,
		FetchedAt:    s.now(),
	}
	for _, rp := range stats.RiskPortfolio {
		data.Outstanding[rp.Rating] = data.Outstanding[rp.Rating].Add(rp.Outstanding())
	}
	for _, blocked := range wallet.Blocked {
		if blocked.LoanID == 0 {
			// fees and similar, not tied to a loan
			continue
		}
		loan, err := s.loans.Get(ctx, blocked.LoanID)
		if err != nil {
			return RemoteData{}, fmt.Errorf("resolve blocked loan %d: %w", blocked.LoanID, err)
		}
		data.Blocked[loan.Rating] = data.Blocked[loan.Rating].Add(blocked.Amount)
		data.BlockedLoans[blocked.LoanID] = struct{}{}
	}
	return data, nil
}

var _ Source = (*RemoteSource)(nil)
