// Package daemon runs strategy executors for each operation kind on a schedule.
package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"autolender/internal/marketplace"
	"autolender/internal/model"
	"autolender/internal/remote"
	"autolender/internal/session"
	"autolender/internal/strategy"
)

// ErrNoStrategyContext means a strategy was reported present but could not be obtained.
var ErrNoStrategyContext = errors.New("daemon: no strategy context")

// Kind tags an operation the robot performs.
type Kind string

const (
	KindInvesting  Kind = "investing"
	KindPurchasing Kind = "purchasing"
	KindSelling    Kind = "selling"
)

// Kinds lists every operation kind in scheduling order.
func Kinds() []Kind {
	return []Kind{KindInvesting, KindPurchasing, KindSelling}
}

// ParseKind validates a kind name.
func ParseKind(name string) (Kind, error) {
	switch k := Kind(name); k {
	case KindInvesting, KindPurchasing, KindSelling:
		return k, nil
	default:
		return "", fmt.Errorf("unknown operation kind %q", name)
	}
}

// Identity is what the executor needs to know about an item it acts upon.
// ID must be stable for the same item across fetches.
type Identity struct {
	ID     int64
	LoanID int64
	Rating model.Rating
}

// Descriptor binds one operation kind to its marketplace, strategy and remote action.
type Descriptor[T any] interface {
	Kind() Kind
	// Enabled reports whether the account may perform this operation at all.
	Enabled(restrictions model.Restrictions) bool
	// Strategy returns the active strategy, or false when none applies.
	Strategy(s *session.Session) (strategy.Strategy[T], bool)
	NewAccessor(s *session.Session, detector *marketplace.Detector) marketplace.Accessor[T]
	Identify(item T) Identity
	// MinimumBalance is the balance below which running is pointless.
	MinimumBalance(restrictions model.Restrictions) decimal.Decimal
	// Perform sends the recommendation to the remote. Business rejections come back as an Outcome.
	Perform(ctx context.Context, s *session.Session, rec strategy.Recommendation[T]) (remote.Outcome, error)
	// Commit applies an accepted recommendation to local session state.
	Commit(s *session.Session, rec strategy.Recommendation[T])
}

// Runner is an executor with its item type erased, as the scheduler sees it.
type Runner interface {
	Kind() Kind
	Run(ctx context.Context) error
}

// NewRunner builds the executor for kind.
func NewRunner(kind Kind, s *session.Session, opts ExecutorOptions, logger zerolog.Logger) (Runner, error) {
	switch kind {
	case KindInvesting:
		return NewExecutor[strategy.LoanDescriptor](Investing{}, s, opts, logger), nil
	case KindPurchasing:
		return NewExecutor[strategy.ParticipationDescriptor](Purchasing{}, s, opts, logger), nil
	case KindSelling:
		return NewExecutor[strategy.InvestmentDescriptor](Selling{}, s, opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown operation kind %q", kind)
	}
}

// NewRunners builds one executor per kind.
func NewRunners(kinds []Kind, s *session.Session, opts ExecutorOptions, logger zerolog.Logger) ([]Runner, error) {
	runners := make([]Runner, 0, len(kinds))
	for _, kind := range kinds {
		r, err := NewRunner(kind, s, opts, logger)
		if err != nil {
			return nil, err
		}
		runners = append(runners, r)
	}
	return runners, nil
}

func collect[T any](ctx context.Context, reader *remote.Reader[T]) ([]T, error) {
	return remote.Collect[T](ctx, reader)
}
