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

// Purchasing buys participations on the secondary marketplace.
type Purchasing struct{}

var _ Descriptor[strategy.ParticipationDescriptor] = Purchasing{}

func (Purchasing) Kind() Kind { return KindPurchasing }

func (Purchasing) Enabled(r model.Restrictions) bool {
	return !r.CannotAccessSmp
}

func (Purchasing) Strategy(s *session.Session) (strategy.Strategy[strategy.ParticipationDescriptor], bool) {
	rules, ok := s.Strategies().Current()
	if !ok {
		return nil, false
	}
	return rules.Purchasing()
}

// NewAccessor reads participations in healthy loans the account can afford and has never sold.
func (Purchasing) NewAccessor(s *session.Session, detector *marketplace.Detector) marketplace.Accessor[strategy.ParticipationDescriptor] {
	var balance decimal.Decimal
	return marketplace.NewListing(
		func(ctx context.Context) ([]strategy.ParticipationDescriptor, error) {
			if err := s.LoadSold(ctx); err != nil {
				logger := s.Logger()
				logger.Warn().Err(err).Msg("sold loans unknown, not excluding any")
			}
			b, err := s.Portfolio().Balance(ctx)
			if err != nil {
				return nil, fmt.Errorf("read balance: %w", err)
			}
			balance = b
			sel := remote.NewSelect().
				Equals("willExceedLoanInvestmentLimit", "false").
				LessThanOrEquals("price", balance.String())
			participations, err := collect(ctx, s.API().Participations(sel))
			if err != nil {
				return nil, fmt.Errorf("read secondary marketplace: %w", err)
			}
			return lo.Map(participations, func(p model.Participation, _ int) strategy.ParticipationDescriptor {
				return strategy.NewParticipationDescriptor(p, s.Loan)
			}), nil
		},
		func(d strategy.ParticipationDescriptor) int64 { return d.Participation.ID },
		detector,
		func(d strategy.ParticipationDescriptor) bool {
			p := d.Participation
			return p.LoanHealth == model.HealthHealthy &&
				!p.WillExceedLoanInvestmentLimit &&
				p.Price.LessThanOrEqual(balance) &&
				!s.WasSold(p.LoanID) &&
				!s.Acted(string(KindPurchasing), p.ID)
		},
	)
}

func (Purchasing) Identify(d strategy.ParticipationDescriptor) Identity {
	p := d.Participation
	return Identity{ID: p.ID, LoanID: p.LoanID, Rating: p.Rating}
}

func (Purchasing) MinimumBalance(model.Restrictions) decimal.Decimal {
	return decimal.NewFromInt(1)
}

func (Purchasing) Perform(ctx context.Context, s *session.Session, rec strategy.Recommendation[strategy.ParticipationDescriptor]) (remote.Outcome, error) {
	return s.API().Purchase(ctx, rec.Item.Participation)
}

func (Purchasing) Commit(s *session.Session, rec strategy.Recommendation[strategy.ParticipationDescriptor]) {
	p := rec.Item.Participation
	s.Portfolio().Record(p.LoanID, p.Rating, rec.Amount)
}
