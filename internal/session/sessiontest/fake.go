// Package sessiontest provides an in-memory marketplace for tests of code built on session.API.
package sessiontest

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/shopspring/decimal"

	"autolender/internal/model"
	"autolender/internal/remote"
	"autolender/internal/session"
)

// PageSize is the page size of every listing served by API.
const PageSize = 2

// API is a scripted marketplace. Exported fields may be changed between runs under Lock.
type API struct {
	sync.Mutex

	Primary       []model.Loan
	Secondary     []model.Participation
	Owned         []model.Investment
	Sold          []model.Investment
	LoanByID      map[int64]model.Loan
	LastPublished model.LastPublishedLoan
	Stats         model.Statistics
	WalletState   model.Wallet
	Limits        model.Restrictions

	// Rejections maps an item id to the failure reported when acting on it.
	Rejections map[int64]remote.Failure
	// Failures maps an item id to an unexpected error.
	Failures map[int64]error
	// Down makes every call fail.
	Down error
	// Outages makes the named operations fail, e.g. "loans".
	Outages map[string]error

	calls   map[string]int
	actions []string
}

var _ session.API = (*API)(nil)

// New returns an empty marketplace with a zero balance.
func New() *API {
	return &API{
		LoanByID:   make(map[int64]model.Loan),
		Rejections: make(map[int64]remote.Failure),
		Failures:   make(map[int64]error),
		Outages:    make(map[string]error),
		calls:      make(map[string]int),
	}
}

// Calls returns how many times op was invoked.
func (a *API) Calls(op string) int {
	a.Lock()
	defer a.Unlock()
	return a.calls[op]
}

// Actions lists invest, purchase and sell requests in order, e.g. "invest:12:200".
func (a *API) Actions() []string {
	a.Lock()
	defer a.Unlock()
	return append([]string(nil), a.actions...)
}

func (a *API) enter(op string) error {
	a.Lock()
	defer a.Unlock()
	a.calls[op]++
	if err, ok := a.Outages[op]; ok {
		return err
	}
	return a.Down
}

func serve[T any](a *API, op string, items func() []T) *remote.Reader[T] {
	return remote.NewReader(func(ctx context.Context, offset, limit int) (remote.Page[T], error) {
		if err := a.enter(op); err != nil {
			return remote.Page[T]{}, err
		}
		a.Lock()
		all := items()
		a.Unlock()
		end := min(offset+limit, len(all))
		if offset >= end {
			return remote.Page[T]{Total: len(all)}, nil
		}
		return remote.Page[T]{Items: append([]T(nil), all[offset:end]...), Total: len(all)}, nil
	}, PageSize)
}

func (a *API) Loans(_ *remote.Select) *remote.Reader[model.Loan] {
	return serve(a, "loans", func() []model.Loan { return a.Primary })
}

func (a *API) Participations(_ *remote.Select) *remote.Reader[model.Participation] {
	return serve(a, "participations", func() []model.Participation { return a.Secondary })
}

// Investments serves Sold when the filter asks for sold investments, Owned otherwise.
func (a *API) Investments(sel *remote.Select) *remote.Reader[model.Investment] {
	q := url.Values{}
	sel.Apply(q)
	if q.Get("status__eq") == "SOLD" {
		return serve(a, "investments", func() []model.Investment { return a.Sold })
	}
	return serve(a, "investments", func() []model.Investment { return a.Owned })
}

func (a *API) Loan(_ context.Context, id int64) (model.Loan, error) {
	if err := a.enter("loan"); err != nil {
		return model.Loan{}, err
	}
	a.Lock()
	defer a.Unlock()
	loan, ok := a.LoanByID[id]
	if !ok {
		return model.Loan{}, fmt.Errorf("loan %d not found", id)
	}
	return loan, nil
}

func (a *API) LastPublishedLoan(context.Context) (model.LastPublishedLoan, error) {
	if err := a.enter("last_published"); err != nil {
		return model.LastPublishedLoan{}, err
	}
	a.Lock()
	defer a.Unlock()
	return a.LastPublished, nil
}

func (a *API) Statistics(context.Context) (model.Statistics, error) {
	if err := a.enter("statistics"); err != nil {
		return model.Statistics{}, err
	}
	a.Lock()
	defer a.Unlock()
	return a.Stats, nil
}

func (a *API) Wallet(context.Context) (model.Wallet, error) {
	if err := a.enter("wallet"); err != nil {
		return model.Wallet{}, err
	}
	a.Lock()
	defer a.Unlock()
	return a.WalletState, nil
}

func (a *API) Restrictions(context.Context) (model.Restrictions, error) {
	if err := a.enter("restrictions"); err != nil {
		return model.Restrictions{}, err
	}
	a.Lock()
	defer a.Unlock()
	return a.Limits, nil
}

func (a *API) Version(context.Context) (string, error) {
	if err := a.enter("version"); err != nil {
		return "", err
	}
	return "test", nil
}

func (a *API) act(op string, id int64, amount decimal.Decimal) (remote.Outcome, error) {
	if err := a.enter(op); err != nil {
		return remote.Outcome{}, err
	}
	a.Lock()
	defer a.Unlock()
	a.actions = append(a.actions, fmt.Sprintf("%s:%d:%s", op, id, amount.String()))
	if err, ok := a.Failures[id]; ok {
		return remote.Outcome{}, err
	}
	if failure, ok := a.Rejections[id]; ok {
		return remote.Outcome{Failure: failure}, nil
	}
	return remote.Success, nil
}

func (a *API) Invest(_ context.Context, loanID int64, amount decimal.Decimal) (remote.Outcome, error) {
	return a.act("invest", loanID, amount)
}

func (a *API) Purchase(_ context.Context, p model.Participation) (remote.Outcome, error) {
	return a.act("purchase", p.ID, p.Price)
}

func (a *API) Sell(_ context.Context, inv model.Investment) (remote.Outcome, error) {
	return a.act("sell", inv.ID, inv.SmpPrice)
}
