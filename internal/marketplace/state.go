package marketplace

import (
	"context"
	"errors"
	"time"
)

// ErrNoState is returned by a StateStore that has nothing saved for the key.
var ErrNoState = errors.New("marketplace: no saved state")

// State is what survives a restart for one account and operation kind.
type State struct {
	LastCheck time.Time
	SeenIDs   []int64
}

// StateStore persists State.
type StateStore interface {
	LoadState(ctx context.Context, account, kind string) (State, error)
	SaveState(ctx context.Context, account, kind string, state State) error
}
