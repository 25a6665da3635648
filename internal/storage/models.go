package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Operation is an audited marketplace action, executed or refused.
type Operation struct {
	ID        int64
	Account   string
	Kind      string
	ItemID    int64
	LoanID    int64
	Rating    string
	Amount    decimal.Decimal
	Status    string
	Reason    *string
	DryRun    bool
	CreatedAt time.Time
}

const (
	OperationExecuted = "executed"
	OperationRejected = "rejected"
)
