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

// Investing puts money into loans on the primary marketplace.
type Investing struct{}

var _ Descriptor[strategy.LoanDescriptor] = Investing{}

func (Investing) Kind() Kind { return KindInvesting }

func (Investing) Enabled(r model.Restrictions) bool {
	return !r.CannotInvest
}

func (Investing) Strategy(s *session.Session) (strategy.Strategy[strategy.LoanDescriptor], bool) {
	rules, ok := s.Strategies().Current()
	if !ok {
		return nil, false
	}
	return rules.Investing()
}

// NewAccessor reads uncovered loans the account has no stake in.
// Change detection only looks at the last published loan.
func (Investing) NewAccessor(s *session.Session, detector *marketplace.Detector) marketplace.Accessor[strategy.LoanDescriptor] {
	listing := marketplace.NewListing(
		func(ctx context.Context) ([]strategy.LoanDescriptor, error) {
			loans, err := collect(ctx, s.API().Loans(remote.NewSelect().Equals("covered", "false")))
			if err != nil {
				return nil, fmt.Errorf("read primary marketplace: %w", err)
			}
			for _, loan := range loans {
				s.Loans().Put(loan.ID, loan)
			}
			return lo.Map(loans, func(l model.Loan, _ int) strategy.LoanDescriptor {
				return strategy.LoanDescriptor{Loan: l}
			}), nil
		},
		func(d strategy.LoanDescriptor) int64 { return d.Loan.ID },
		nil,
		func(d strategy.LoanDescriptor) bool {
			return !d.Loan.Covered && d.Loan.MyInvestment == nil && !s.Acted(string(KindInvesting), d.Loan.ID)
		},
	)
	return marketplace.NewProbed(listing, func(ctx context.Context) (int64, error) {
		last, err := s.API().LastPublishedLoan(ctx)
		if err != nil {
			return 0, err
		}
		return last.ID, nil
	}, detector)
}

func (Investing) Identify(d strategy.LoanDescriptor) Identity {
	return Identity{ID: d.Loan.ID, LoanID: d.Loan.ID, Rating: d.Loan.Rating}
}

func (Investing) MinimumBalance(r model.Restrictions) decimal.Decimal {
	return r.MinimumInvestmentAmount
}

func (Investing) Perform(ctx context.Context, s *session.Session, rec strategy.Recommendation[strategy.LoanDescriptor]) (remote.Outcome, error) {
	return s.API().Invest(ctx, rec.Item.Loan.ID, rec.Amount)
}

func (Investing) Commit(s *session.Session, rec strategy.Recommendation[strategy.LoanDescriptor]) {
	s.Portfolio().Record(rec.Item.Loan.ID, rec.Item.Loan.Rating, rec.Amount)
}
