package daemon

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"autolender/internal/marketplace"
	"autolender/internal/model"
	"autolender/internal/remote"
	"autolender/internal/session"
	"autolender/internal/strategy"
)

// Selling offers owned investments on the secondary marketplace.
type Selling struct{}

var _ Descriptor[strategy.InvestmentDescriptor] = Selling{}

func (Selling) Kind() Kind { return KindSelling }

func (Selling) Enabled(r model.Restrictions) bool {
	return !r.CannotAccessSmp
}

func (Selling) Strategy(s *session.Session) (strategy.Strategy[strategy.InvestmentDescriptor], bool) {
	rules, ok := s.Strategies().Current()
	if !ok {
		return nil, false
	}
	return rules.Selling()
}

func (Selling) NewAccessor(s *session.Session, detector *marketplace.Detector) marketplace.Accessor[strategy.InvestmentDescriptor] {
	return marketplace.NewListing(
		func(ctx context.Context) ([]strategy.InvestmentDescriptor, error) {
			owned, err := collect(ctx, s.API().Investments(remote.NewSelect().Equals("status", "ACTIVE")))
			if err != nil {
				return nil, fmt.Errorf("read investments: %w", err)
			}
			return lo.Map(owned, func(inv model.Investment, _ int) strategy.InvestmentDescriptor {
				return strategy.NewInvestmentDescriptor(inv, s.Loan)
			}), nil
		},
		func(d strategy.InvestmentDescriptor) int64 { return d.Investment.ID },
		detector,
		func(d strategy.InvestmentDescriptor) bool {
			inv := d.Investment
			return inv.CanBeOffered && !inv.OnSmp && !s.Acted(string(KindSelling), inv.ID)
		},
	)
}

func (Selling) Identify(d strategy.InvestmentDescriptor) Identity {
	inv := d.Investment
	return Identity{ID: inv.ID, LoanID: inv.LoanID, Rating: inv.Rating}
}

// MinimumBalance is zero: selling needs no money.
func (Selling) MinimumBalance(model.Restrictions) decimal.Decimal {
	return decimal.Zero
}

func (Selling) Perform(ctx context.Context, s *session.Session, rec strategy.Recommendation[strategy.InvestmentDescriptor]) (remote.Outcome, error) {
	return s.API().Sell(ctx, rec.Item.Investment)
}

func (Selling) Commit(s *session.Session, rec strategy.Recommendation[strategy.InvestmentDescriptor]) {
	s.MarkSold(rec.Item.Investment.LoanID)
}
