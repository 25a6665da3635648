package marketplace

import (
	"slices"
	"sync/atomic"
)

// HasAdditions reports whether current holds an item previous did not.
// Removals alone never count as a change.
func HasAdditions(current, previous []int64) bool {
	if len(current) == 0 {
		return false
	}
	if len(current) > len(previous) {
		return true
	}
	seen := make(map[int64]struct{}, len(previous))
	for _, id := range previous {
		seen[id] = struct{}{}
	}
	for _, id := range current {
		if _, ok := seen[id]; !ok {
			return true
		}
	}
	return false
}

// Detector remembers the ids seen by the previous check of one marketplace.
type Detector struct {
	seen atomic.Pointer[[]int64]
}

// NewDetector returns a detector that has seen nothing.
func NewDetector() *Detector {
	return &Detector{}
}

// Seed restores ids persisted by an earlier process.
func (d *Detector) Seed(ids []int64) {
	cp := slices.Clone(ids)
	d.seen.Store(&cp)
}

// Check records ids as the latest view and reports whether it adds anything to the previous one.
// An empty view is not recorded: it reports no additions and keeps the previous ids.
func (d *Detector) Check(ids []int64) bool {
	if len(ids) == 0 {
		return false
	}
	cp := slices.Clone(ids)
	prev := d.seen.Swap(&cp)
	var previous []int64
	if prev != nil {
		previous = *prev
	}
	return HasAdditions(cp, previous)
}

// Current returns the ids recorded by the last check.
func (d *Detector) Current() []int64 {
	p := d.seen.Load()
	if p == nil {
		return nil
	}
	return slices.Clone(*p)
}
