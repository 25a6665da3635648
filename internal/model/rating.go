package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Rating is the risk class the marketplace assigns to every loan.
type Rating string

const (
	RatingAAAAAA Rating = "AAAAAA"
	RatingAAAAA  Rating = "AAAAA"
	RatingAAAA   Rating = "AAAA"
	RatingAAA    Rating = "AAA"
	RatingAAE    Rating = "AAE"
	RatingAA     Rating = "AA"
	RatingAE     Rating = "AE"
	RatingA      Rating = "A"
	RatingB      Rating = "B"
	RatingC      Rating = "C"
	RatingD      Rating = "D"
)

// ordered best to worst
var ratings = []Rating{
	RatingAAAAAA, RatingAAAAA, RatingAAAA, RatingAAA, RatingAAE,
	RatingAA, RatingAE, RatingA, RatingB, RatingC, RatingD,
}

var interestRates = map[Rating]decimal.Decimal{
	RatingAAAAAA: decimal.RequireFromString("2.99"),
	RatingAAAAA:  decimal.RequireFromString("3.99"),
	RatingAAAA:   decimal.RequireFromString("4.99"),
	RatingAAA:    decimal.RequireFromString("5.99"),
	RatingAAE:    decimal.RequireFromString("6.99"),
	RatingAA:     decimal.RequireFromString("8.49"),
	RatingAE:     decimal.RequireFromString("9.49"),
	RatingA:      decimal.RequireFromString("10.99"),
	RatingB:      decimal.RequireFromString("13.49"),
	RatingC:      decimal.RequireFromString("15.49"),
	RatingD:      decimal.RequireFromString("19.99"),
}

// Ratings returns every known rating, best first.
func Ratings() []Rating {
	out := make([]Rating, len(ratings))
	copy(out, ratings)
	return out
}

// ParseRating resolves a rating code, case-insensitively.
func ParseRating(code string) (Rating, error) {
	r := Rating(strings.ToUpper(strings.TrimSpace(code)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown rating %q", code)
	}
	return r, nil
}

// Valid reports whether r is one of the known codes.
func (r Rating) Valid() bool {
	return r.Index() >= 0
}

// Index is the position of r in best-to-worst order, or -1.
func (r Rating) Index() int {
	for i, known := range ratings {
		if known == r {
			return i
		}
	}
	return -1
}

// InterestRate is the nominal yearly rate in percent.
func (r Rating) InterestRate() decimal.Decimal {
	return interestRates[r]
}

func (r Rating) String() string {
	return string(r)
}
