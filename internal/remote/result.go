package remote

import (
	"errors"
	"net/http"
)

// Failure names a known reason the marketplace refused an operation.
type Failure string

const (
	FailureInsufficientBalance Failure = "INSUFFICIENT_BALANCE"
	FailureAlreadyCovered      Failure = "ALREADY_COVERED"
	FailureTooManyRequests     Failure = "TOO_MANY_REQUESTS"
	FailureUnknown             Failure = "UNKNOWN"
)

var reasonCodes = map[string]Failure{
	"insufficientBalance":  FailureInsufficientBalance,
	"cancelled":            FailureAlreadyCovered,
	"withdrawn":            FailureAlreadyCovered,
	"reservationInvalid":   FailureAlreadyCovered,
	"alreadyCovered":       FailureAlreadyCovered,
	"tooManyRequests":      FailureTooManyRequests,
	"TOO_MANY_REQUESTS":    FailureTooManyRequests,
	"INSUFFICIENT_BALANCE": FailureInsufficientBalance,
}

// Outcome is the typed result of an invest, purchase or sell request.
type Outcome struct {
	Failure Failure
}

// Success is the outcome of an accepted operation.
var Success = Outcome{}

// OK reports whether the operation was accepted.
func (o Outcome) OK() bool {
	return o.Failure == ""
}

// OutcomeOf converts a business rejection into an Outcome. Any other error is returned as is.
func OutcomeOf(err error) (Outcome, error) {
	if err == nil {
		return Success, nil
	}
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Kind != KindRejected {
		return Outcome{}, err
	}
	if failure, ok := reasonCodes[rerr.Reason]; ok {
		return Outcome{Failure: failure}, nil
	}
	if rerr.Status == http.StatusTooManyRequests {
		return Outcome{Failure: FailureTooManyRequests}, nil
	}
	return Outcome{Failure: FailureUnknown}, nil
}
