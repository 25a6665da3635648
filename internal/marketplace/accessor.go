// Package marketplace reads marketplace listings and decides whether they changed.
package marketplace

import (
	"context"
	"sync"

	"github.com/samber/lo"
)

// Accessor gives one executor run access to one marketplace.
type Accessor[T any] interface {
	// HasUpdates reports whether the marketplace gained items since the previous check.
	HasUpdates(ctx context.Context) (bool, error)
	// Marketplace returns the actionable items. The listing is fetched at most once per accessor.
	Marketplace(ctx context.Context) ([]T, error)
}

// LoadFunc fetches the full listing.
type LoadFunc[T any] func(ctx context.Context) ([]T, error)

// Listing is an Accessor whose change detection runs on the ids of the listing itself.
type Listing[T any] struct {
	load     LoadFunc[T]
	id       func(T) int64
	filters  []func(T) bool
	detector *Detector

	mu     sync.Mutex
	loaded bool
	items  []T
	err    error
}

// NewListing builds a listing accessor. Items failing any filter are dropped before detection.
func NewListing[T any](load LoadFunc[T], id func(T) int64, detector *Detector, filters ...func(T) bool) *Listing[T] {
	return &Listing[T]{load: load, id: id, detector: detector, filters: filters}
}

func (l *Listing[T]) Marketplace(ctx context.Context) ([]T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.items, l.err
	}
	items, err := l.load(ctx)
	if err == nil {
		items = lo.Filter(items, func(item T, _ int) bool {
			for _, keep := range l.filters {
				if !keep(item) {
					return false
				}
			}
			return true
		})
	}
	l.loaded, l.items, l.err = true, items, err
	return items, err
}

func (l *Listing[T]) HasUpdates(ctx context.Context) (bool, error) {
	items, err := l.Marketplace(ctx)
	if err != nil {
		return false, err
	}
	if l.detector == nil {
		return len(items) > 0, nil
	}
	return l.detector.Check(lo.Map(items, func(item T, _ int) int64 { return l.id(item) })), nil
}

// ProbeFunc returns the id of the newest published item, or 0 if there is none.
type ProbeFunc func(ctx context.Context) (int64, error)

// Probed detects changes with a cheap probe instead of reading the whole listing.
type Probed[T any] struct {
	*Listing[T]
	probe    ProbeFunc
	detector *Detector
}

// NewProbed wraps listing; change detection only consults probe.
func NewProbed[T any](listing *Listing[T], probe ProbeFunc, detector *Detector) *Probed[T] {
	return &Probed[T]{Listing: listing, probe: probe, detector: detector}
}

func (p *Probed[T]) HasUpdates(ctx context.Context) (bool, error) {
	id, err := p.probe(ctx)
	if err != nil {
		return false, err
	}
	var ids []int64
	if id != 0 {
		ids = []int64{id}
	}
	return p.detector.Check(ids), nil
}

var (
	_ Accessor[int] = (*Listing[int])(nil)
	_ Accessor[int] = (*Probed[int])(nil)
)
