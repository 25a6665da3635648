package remote

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
)

// ErrNotRestartable is yielded when a paged reader is iterated a second time.
var ErrNotRestartable = errors.New("remote: paged reader already consumed")

// Characteristics describe the guarantees a stream makes about its items.
type Characteristics uint8

const (
	Immutable Characteristics = 1 << iota
	Ordered
	NonNull
	Sized
)

// Has reports whether every flag in want is set.
func (c Characteristics) Has(want Characteristics) bool {
	return c&want == want
}

// Page is one slice of a remote collection together with the collection's total size.
type Page[T any] struct {
	Items []T
	Total int
}

// PageFunc fetches limit items starting at offset.
type PageFunc[T any] func(ctx context.Context, offset, limit int) (Page[T], error)

// Stream is a finite sequence of items that may know its size.
type Stream[T any] interface {
	All(ctx context.Context) iter.Seq2[T, error]
	Size() (int, bool)
}

// Reader iterates a remote collection lazily, one page at a time.
// It is single-use and not safe for concurrent iteration.
type Reader[T any] struct {
	fetch    PageFunc[T]
	pageSize int

	// page range [from, to); to < 0 until the total is known
	from  int
	to    int
	total int

	head     *Page[T]
	consumed atomic.Bool
}

// NewReader wraps fetch. pageSize must be positive.
func NewReader[T any](fetch PageFunc[T], pageSize int) *Reader[T] {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Reader[T]{fetch: fetch, pageSize: pageSize, to: -1, total: -1}
}

// Characteristics of a paged reader. Sized is only reported once the total is known.
func (r *Reader[T]) Characteristics() Characteristics {
	c := Immutable | Ordered | NonNull
	if r.to >= 0 {
		c |= Sized
	}
	return c
}

// Size returns the number of items this reader will yield, once the first page was fetched.
func (r *Reader[T]) Size() (int, bool) {
	if r.to < 0 {
		return 0, false
	}
	end := min(r.to*r.pageSize, r.total)
	return max(end-r.from*r.pageSize, 0), true
}

// Prime fetches the first page so that the size is known and the reader can be split.
func (r *Reader[T]) Prime(ctx context.Context) error {
	if r.head != nil || r.to >= 0 && r.from >= r.to {
		return nil
	}
	page, err := r.fetchPage(ctx, r.from)
	if err != nil {
		return err
	}
	r.head = &page
	return nil
}

// Split hands the upper half of the remaining pages to a new reader.
// It needs a primed reader spanning at least two pages.
func (r *Reader[T]) Split() (*Reader[T], bool) {
	if r.to < 0 || r.consumed.Load() || r.to-r.from <= 1 {
		return nil, false
	}
	mid := r.from + (r.to-r.from+1)/2
	other := &Reader[T]{
		fetch:    r.fetch,
		pageSize: r.pageSize,
		from:     mid,
		to:       r.to,
		total:    r.total,
	}
	r.to = mid
	return other, true
}

// All yields every item in order. A second call yields ErrNotRestartable.
func (r *Reader[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if r.consumed.Swap(true) {
			yield(zero, ErrNotRestartable)
			return
		}
		for p := r.from; r.to < 0 || p < r.to; p++ {
			var page Page[T]
			if p == r.from && r.head != nil {
				page = *r.head
				r.head = nil
			} else {
				fetched, err := r.fetchPage(ctx, p)
				if err != nil {
					yield(zero, err)
					return
				}
				page = fetched
			}
			if len(page.Items) == 0 {
				return
			}
			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}
			if r.to < 0 && len(page.Items) < r.pageSize {
				return
			}
		}
	}
}

func (r *Reader[T]) fetchPage(ctx context.Context, p int) (Page[T], error) {
	page, err := r.fetch(ctx, p*r.pageSize, r.pageSize)
	if err != nil {
		return Page[T]{}, err
	}
	if r.to < 0 && page.Total >= 0 && (page.Total > 0 || len(page.Items) == 0) {
		r.total = page.Total
		r.to = (page.Total + r.pageSize - 1) / r.pageSize
	}
	return page, nil
}

// SliceReader is an in-memory stream that can be iterated any number of times.
type SliceReader[T any] struct {
	items []T
}

// NewSliceReader wraps items.
func NewSliceReader[T any](items []T) *SliceReader[T] {
	return &SliceReader[T]{items: items}
}

func (s *SliceReader[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range s.items {
			if err := ctx.Err(); err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (s *SliceReader[T]) Size() (int, bool) {
	return len(s.items), true
}

// Collect drains a stream into a slice.
func Collect[T any](ctx context.Context, s Stream[T]) ([]T, error) {
	capacity, _ := s.Size()
	out := make([]T, 0, capacity)
	for item, err := range s.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

var (
	_ Stream[int] = (*Reader[int])(nil)
	_ Stream[int] = (*SliceReader[int])(nil)
)
