package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"autolender/internal/model"
)

// Overview is an immutable snapshot of the portfolio as the robot believes it to be.
type Overview struct {
	Totals    map[model.Rating]decimal.Decimal
	Total     decimal.Decimal
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// At returns the invested amount in rating.
func (o Overview) At(r model.Rating) decimal.Decimal {
	return o.Totals[r]
}

// Share returns the fraction of the portfolio invested in rating, in [0, 1].
func (o Overview) Share(r model.Rating) decimal.Decimal {
	if o.Total.IsZero() {
		return decimal.Zero
	}
	return o.At(r).Div(o.Total)
}
