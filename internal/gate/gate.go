// Package gate bounds how many test launches may be active at once.
package gate

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate admits callers up to a fixed limit. Waiters are admitted in FIFO
// order, so no device launch can be starved by later arrivals. A Gate knows
// nothing about devices or runs; it is purely a capacity counter.
type Gate struct {
	limit int
	sem   *semaphore.Weighted
}

// New returns a gate admitting at most limit concurrent holders.
// A limit <= 0 means unbounded: Acquire never blocks.
func New(limit int) *Gate {
	if limit < 0 {
		limit = 0
	}
	g := &Gate{limit: limit}
	if limit > 0 {
		g.sem = semaphore.NewWeighted(int64(limit))
	}
	return g
}

// Limit returns the configured capacity, 0 when unbounded.
func (g *Gate) Limit() int {
	if g == nil {
		return 0
	}
	return g.limit
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	if g == nil || g.sem == nil {
		return ctx.Err()
	}
	return g.sem.Acquire(ctx, 1)
}

// Release returns a slot. It must be called exactly once per successful
// Acquire; callers pair it with defer so every exit path releases.
func (g *Gate) Release() {
	if g == nil || g.sem == nil {
		return
	}
	g.sem.Release(1)
}
