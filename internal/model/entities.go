package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Health describes the repayment history of a loan.
type Health string

const (
	HealthHealthy           Health = "HEALTHY"
	HealthCurrentlyInDue    Health = "CURRENTLY_IN_DUE"
	HealthHistoricallyInDue Health = "HISTORICALLY_IN_DUE"
	HealthUnknown           Health = "UNKNOWN"
)

// Loan is an item listed on the primary marketplace.
type Loan struct {
	ID                  int64           `json:"id"`
	Name                string          `json:"name"`
	Rating              Rating          `json:"rating"`
	Amount              decimal.Decimal `json:"amount"`
	RemainingInvestment decimal.Decimal `json:"remainingInvestment"`
	InterestRate        decimal.Decimal `json:"interestRate"`
	TermInMonths        int             `json:"termInMonths"`
	Covered             bool            `json:"covered"`
	Published           bool            `json:"published"`
	DatePublished       time.Time       `json:"datePublished"`
	MyInvestment        *MyInvestment   `json:"myInvestment,omitempty"`
}

// MyInvestment is the account's own stake in a loan, when present.
type MyInvestment struct {
	ID     int64           `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

// Participation is a share of a loan offered on the secondary marketplace.
type Participation struct {
	ID                            int64           `json:"id"`
	LoanID                        int64           `json:"loanId"`
	InvestmentID                  int64           `json:"investmentId"`
	Rating                        Rating          `json:"rating"`
	RemainingPrincipal            decimal.Decimal `json:"remainingPrincipal"`
	Price                         decimal.Decimal `json:"price"`
	Discount                      decimal.Decimal `json:"discount"`
	RemainingInstalmentCount      int             `json:"remainingInstalmentCount"`
	LoanHealth                    Health          `json:"loanHealthInfo"`
	WillExceedLoanInvestmentLimit bool            `json:"willExceedLoanInvestmentLimit"`
}

// Investment is a position the account holds.
type Investment struct {
	ID                 int64           `json:"id"`
	LoanID             int64           `json:"loanId"`
	Rating             Rating          `json:"rating"`
	Amount             decimal.Decimal `json:"amount"`
	RemainingPrincipal decimal.Decimal `json:"remainingPrincipal"`
	SmpPrice           decimal.Decimal `json:"smpPrice"`
	LoanHealth         Health          `json:"loanHealthInfo"`
	OnSmp              bool            `json:"onSmp"`
	CanBeOffered       bool            `json:"canBeOffered"`
}

// Restrictions are the account-level limits imposed by the marketplace.
type Restrictions struct {
	CannotInvest            bool            `json:"cannotInvest"`
	CannotAccessSmp         bool            `json:"cannotAccessSmp"`
	MinimumInvestmentAmount decimal.Decimal `json:"minimumInvestmentAmount"`
	MaximumInvestmentAmount decimal.Decimal `json:"maximumInvestmentAmount"`
	InvestmentStep          decimal.Decimal `json:"investmentStep"`
	RequestedAt             time.Time       `json:"-"`
}

// RiskPortfolio is the outstanding principal in one rating.
type RiskPortfolio struct {
	Rating Rating          `json:"rating"`
	Due    decimal.Decimal `json:"due"`
	Unpaid decimal.Decimal `json:"unpaid"`
}

// Outstanding is the principal still owed to the account.
func (r RiskPortfolio) Outstanding() decimal.Decimal {
	return r.Due.Add(r.Unpaid)
}

// Statistics is the remote view of the account's portfolio.
type Statistics struct {
	RiskPortfolio []RiskPortfolio `json:"riskPortfolio"`
	Timestamp     time.Time       `json:"timestamp"`
}

// BlockedAmount is money reserved for an operation the remote has not settled yet.
type BlockedAmount struct {
	LoanID   int64           `json:"loanId"`
	Amount   decimal.Decimal `json:"amount"`
	Category string          `json:"category"`
}

// Wallet holds the account balance and its pending reservations.
type Wallet struct {
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	Blocked          []BlockedAmount `json:"blockedAmounts"`
}

// LastPublishedLoan is the cheap primary-marketplace probe.
type LastPublishedLoan struct {
	ID            int64     `json:"id"`
	DatePublished time.Time `json:"datePublished"`
}
