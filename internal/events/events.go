// Package events distributes robot lifecycle notifications to registered listeners.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"autolender/internal/model"
)

// Type identifies an event.
type Type string

const (
	TypeStarted     Type = "execution_started"
	TypeRecommended Type = "recommended"
	TypeExecuted    Type = "executed"
	TypeRejected    Type = "rejected"
	TypeCompleted   Type = "execution_completed"
	TypeSuspended   Type = "daemon_suspended"
	TypeResumed     Type = "daemon_resumed"
)

// Event is an immutable notification. Fields irrelevant to Type are zero.
type Event struct {
	Type      Type
	Account   string
	Kind      string
	ItemID    int64
	LoanID    int64
	Rating    model.Rating
	Amount    decimal.Decimal
	Reason    string
	Items     int
	Balance   decimal.Decimal
	DryRun    bool
	CreatedAt time.Time
}

// Listener reacts to events.
type Listener interface {
	Handle(ctx context.Context, event Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, event Event) error

func (f ListenerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}
