package strategy

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"autolender/internal/model"
	"autolender/internal/portfolio"
)

type rulesFile struct {
	Investing struct {
		Enabled             bool    `yaml:"enabled"`
		TargetPortfolioSize float64 `yaml:"target_portfolio_size"`
		DefaultAmount       float64 `yaml:"default_amount"`
		MaximumAmount       float64 `yaml:"maximum_amount"`
	} `yaml:"investing"`
	Purchasing struct {
		Enabled      bool    `yaml:"enabled"`
		MaximumPrice float64 `yaml:"maximum_price"`
	} `yaml:"purchasing"`
	Selling struct {
		Enabled   bool     `yaml:"enabled"`
		Ratings   []string `yaml:"ratings"`
		Unhealthy bool     `yaml:"sell_unhealthy"`
	} `yaml:"selling"`
	Ratings map[string]struct {
		TargetShare  float64 `yaml:"target_share"`
		MaximumShare float64 `yaml:"maximum_share"`
		Amount       float64 `yaml:"amount"`
	} `yaml:"ratings"`
}

// RatingRule is the allocation policy for one rating.
type RatingRule struct {
	TargetShare  decimal.Decimal
	MaximumShare decimal.Decimal
	Amount       decimal.Decimal
}

// Rules is a simple allocation strategy read from YAML.
type Rules struct {
	investing           bool
	purchasing          bool
	selling             bool
	targetPortfolioSize decimal.Decimal
	defaultAmount       decimal.Decimal
	maximumAmount       decimal.Decimal
	maximumPrice        decimal.Decimal
	sellRatings         []model.Rating
	sellUnhealthy       bool
	ratings             map[model.Rating]RatingRule
}

// Parse reads rules from YAML.
func Parse(raw []byte) (*Rules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse strategy: %w", err)
	}

	r := &Rules{
		investing:           f.Investing.Enabled,
		purchasing:          f.Purchasing.Enabled,
		selling:             f.Selling.Enabled,
		targetPortfolioSize: decimal.NewFromFloat(f.Investing.TargetPortfolioSize),
		defaultAmount:       decimal.NewFromFloat(f.Investing.DefaultAmount),
		maximumAmount:       decimal.NewFromFloat(f.Investing.MaximumAmount),
		maximumPrice:        decimal.NewFromFloat(f.Purchasing.MaximumPrice),
		sellUnhealthy:       f.Selling.Unhealthy,
		ratings:             make(map[model.Rating]RatingRule, len(f.Ratings)),
	}
	for code, rule := range f.Ratings {
		rating, err := model.ParseRating(code)
		if err != nil {
			return nil, fmt.Errorf("parse strategy: %w", err)
		}
		if rule.MaximumShare > 0 && rule.MaximumShare < rule.TargetShare {
			return nil, fmt.Errorf("parse strategy: rating %s maximum_share below target_share", rating)
		}
		r.ratings[rating] = RatingRule{
			TargetShare:  decimal.NewFromFloat(rule.TargetShare),
			MaximumShare: decimal.NewFromFloat(rule.MaximumShare),
			Amount:       decimal.NewFromFloat(rule.Amount),
		}
	}
	for _, code := range f.Selling.Ratings {
		rating, err := model.ParseRating(code)
		if err != nil {
			return nil, fmt.Errorf("parse strategy: %w", err)
		}
		r.sellRatings = append(r.sellRatings, rating)
	}
	return r, nil
}

// Investing returns the primary-marketplace strategy, or false when disabled.
func (r *Rules) Investing() (Strategy[LoanDescriptor], bool) {
	return investingRules{r}, r.investing
}

// Purchasing returns the secondary-marketplace strategy, or false when disabled.
func (r *Rules) Purchasing() (Strategy[ParticipationDescriptor], bool) {
	return purchasingRules{r}, r.purchasing
}

// Selling returns the selling strategy, or false when disabled.
func (r *Rules) Selling() (Strategy[InvestmentDescriptor], bool) {
	return sellingRules{r}, r.selling
}

// allocation tracks the portfolio as recommendations accumulate within one pass.
type allocation struct {
	totals  map[model.Rating]decimal.Decimal
	total   decimal.Decimal
	balance decimal.Decimal
}

func newAllocation(o portfolio.Overview) *allocation {
	totals := make(map[model.Rating]decimal.Decimal, len(o.Totals))
	for k, v := range o.Totals {
		totals[k] = v
	}
	return &allocation{totals: totals, total: o.Total, balance: o.Balance}
}

func (a *allocation) share(r model.Rating) decimal.Decimal {
	if a.total.IsZero() {
		return decimal.Zero
	}
	return a.totals[r].Div(a.total)
}

func (a *allocation) add(r model.Rating, amount decimal.Decimal) {
	a.totals[r] = a.totals[r].Add(amount)
	a.total = a.total.Add(amount)
	a.balance = a.balance.Sub(amount)
}

// accepts reports whether adding amount keeps rating within its maximum share.
func (r *Rules) accepts(a *allocation, rating model.Rating, amount decimal.Decimal) bool {
	rule, ok := r.ratings[rating]
	if !ok {
		return false
	}
	if rule.MaximumShare.IsZero() {
		return true
	}
	after := a.total.Add(amount)
	if after.IsZero() {
		return true
	}
	return a.totals[rating].Add(amount).Div(after).LessThanOrEqual(rule.MaximumShare)
}

// byNeed orders ratings by how far below their target share they are, then best rating first.
func (r *Rules) byNeed(a *allocation) func(x, y model.Rating) int {
	return func(x, y model.Rating) int {
		gx := r.ratings[x].TargetShare.Sub(a.share(x))
		gy := r.ratings[y].TargetShare.Sub(a.share(y))
		if c := gy.Cmp(gx); c != 0 {
			return c
		}
		return x.Index() - y.Index()
	}
}

type investingRules struct{ *Rules }

func (s investingRules) Recommend(items []LoanDescriptor, overview portfolio.Overview, restrictions model.Restrictions) []Recommendation[LoanDescriptor] {
	if !s.targetPortfolioSize.IsZero() && overview.Total.GreaterThanOrEqual(s.targetPortfolioSize) {
		return nil
	}
	alloc := newAllocation(overview)
	ordered := slices.Clone(items)
	need := s.byNeed(alloc)
	slices.SortStableFunc(ordered, func(x, y LoanDescriptor) int { return need(x.Rating(), y.Rating()) })

	var out []Recommendation[LoanDescriptor]
	for _, item := range ordered {
		amount := s.investmentAmount(item, alloc, restrictions)
		if amount.IsZero() || !s.accepts(alloc, item.Rating(), amount) {
			continue
		}
		alloc.add(item.Rating(), amount)
		out = append(out, Recommendation[LoanDescriptor]{Item: item, Amount: amount})
	}
	return out
}

func (s investingRules) investmentAmount(item LoanDescriptor, alloc *allocation, restrictions model.Restrictions) decimal.Decimal {
	amount := s.defaultAmount
	if rule, ok := s.ratings[item.Rating()]; ok && rule.Amount.IsPositive() {
		amount = rule.Amount
	}
	caps := []decimal.Decimal{alloc.balance}
	if s.maximumAmount.IsPositive() {
		caps = append(caps, s.maximumAmount)
	}
	if restrictions.MaximumInvestmentAmount.IsPositive() {
		caps = append(caps, restrictions.MaximumInvestmentAmount)
	}
	if item.Loan.RemainingInvestment.IsPositive() {
		caps = append(caps, item.Loan.RemainingInvestment)
	}
	amount = decimal.Min(amount, caps...)
	if step := restrictions.InvestmentStep; step.IsPositive() {
		amount = amount.Div(step).Floor().Mul(step)
	}
	if amount.LessThan(restrictions.MinimumInvestmentAmount) || !amount.IsPositive() {
		return decimal.Zero
	}
	return amount
}

type purchasingRules struct{ *Rules }

func (s purchasingRules) Recommend(items []ParticipationDescriptor, overview portfolio.Overview, _ model.Restrictions) []Recommendation[ParticipationDescriptor] {
	alloc := newAllocation(overview)
	ordered := slices.Clone(items)
	need := s.byNeed(alloc)
	slices.SortStableFunc(ordered, func(x, y ParticipationDescriptor) int { return need(x.Rating(), y.Rating()) })

	var out []Recommendation[ParticipationDescriptor]
	for _, item := range ordered {
		price := item.Participation.Price
		if !price.IsPositive() || price.GreaterThan(alloc.balance) {
			continue
		}
		if s.maximumPrice.IsPositive() && price.GreaterThan(s.maximumPrice) {
			continue
		}
		if !s.accepts(alloc, item.Rating(), price) {
			continue
		}
		alloc.add(item.Rating(), price)
		out = append(out, Recommendation[ParticipationDescriptor]{Item: item, Amount: price})
	}
	return out
}

type sellingRules struct{ *Rules }

func (s sellingRules) Recommend(items []InvestmentDescriptor, _ portfolio.Overview, _ model.Restrictions) []Recommendation[InvestmentDescriptor] {
	candidates := lo.Filter(items, func(item InvestmentDescriptor, _ int) bool {
		if slices.Contains(s.sellRatings, item.Rating()) {
			return true
		}
		return s.sellUnhealthy && item.Investment.LoanHealth != "" && item.Investment.LoanHealth != model.HealthHealthy
	})
	return lo.Map(candidates, func(item InvestmentDescriptor, _ int) Recommendation[InvestmentDescriptor] {
		return Recommendation[InvestmentDescriptor]{Item: item, Amount: item.Investment.RemainingPrincipal}
	})
}
