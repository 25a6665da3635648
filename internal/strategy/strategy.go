// Package strategy decides which marketplace items deserve money and how much.
package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"autolender/internal/model"
	"autolender/internal/portfolio"
)

// Recommendation pairs an item with the amount the strategy wants to commit.
type Recommendation[T any] struct {
	Item   T
	Amount decimal.Decimal
}

// Strategy turns marketplace items into recommendations, best first.
type Strategy[T any] interface {
	Recommend(items []T, overview portfolio.Overview, restrictions model.Restrictions) []Recommendation[T]
}

// LoanDescriptor is a primary-marketplace item.
type LoanDescriptor struct {
	Loan model.Loan
}

func (d LoanDescriptor) Rating() model.Rating { return d.Loan.Rating }

// RelatedLoan fetches the loan behind a participation or investment on demand.
type RelatedLoan func(ctx context.Context, loanID int64) (model.Loan, error)

// ParticipationDescriptor is a secondary-marketplace item.
type ParticipationDescriptor struct {
	Participation model.Participation
	related       RelatedLoan
}

// NewParticipationDescriptor binds p to a loan resolver.
func NewParticipationDescriptor(p model.Participation, related RelatedLoan) ParticipationDescriptor {
	return ParticipationDescriptor{Participation: p, related: related}
}

func (d ParticipationDescriptor) Rating() model.Rating { return d.Participation.Rating }

// Loan resolves the related loan; nothing is fetched until asked.
func (d ParticipationDescriptor) Loan(ctx context.Context) (model.Loan, error) {
	if d.related == nil {
		return model.Loan{ID: d.Participation.LoanID, Rating: d.Participation.Rating}, nil
	}
	return d.related(ctx, d.Participation.LoanID)
}

// InvestmentDescriptor is an owned position that may be offered for sale.
type InvestmentDescriptor struct {
	Investment model.Investment
	related    RelatedLoan
}

// NewInvestmentDescriptor binds inv to a loan resolver.
func NewInvestmentDescriptor(inv model.Investment, related RelatedLoan) InvestmentDescriptor {
	return InvestmentDescriptor{Investment: inv, related: related}
}

func (d InvestmentDescriptor) Rating() model.Rating { return d.Investment.Rating }

// Loan resolves the related loan.
func (d InvestmentDescriptor) Loan(ctx context.Context) (model.Loan, error) {
	if d.related == nil {
		return model.Loan{ID: d.Investment.LoanID, Rating: d.Investment.Rating}, nil
	}
	return d.related(ctx, d.Investment.LoanID)
}
