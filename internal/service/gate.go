package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Gate is a process-wide single-flight flag plus a persisted last-run time.
// Its clock also stamps the runs it admits, so interval checks and recorded
// times never disagree.
type Gate struct {
	state   IndexStateRepositoryInterface
	key     string
	now     func() time.Time
	running atomic.Bool
}

// NewGate uses time.Now when clock is nil.
func NewGate(state IndexStateRepositoryInterface, key string, clock func() time.Time) *Gate {
	if clock == nil {
		clock = time.Now
	}
	return &Gate{state: state, key: key, now: clock}
}

// Now reads the gate's clock.
func (g *Gate) Now() time.Time {
	return g.now()
}

// Lease is held by the single run a Gate admitted.
type Lease struct {
	gate *Gate
	once sync.Once
}

// TryAcquire admits a run when none is in flight and more than minInterval
// has passed since the last completed one. force skips only the interval
// check. A refused caller gets ok == false and nothing to release.
func (g *Gate) TryAcquire(ctx context.Context, minInterval time.Duration, force bool) (*Lease, bool, error) {
	if !g.running.CompareAndSwap(false, true) {
		return nil, false, nil
	}
	lease := &Lease{gate: g}

	if force {
		return lease, true, nil
	}

	last, ok, err := g.state.GetTime(ctx, g.key)
	if err != nil {
		lease.Release()
		return nil, false, fmt.Errorf("read %s: %w", g.key, err)
	}
	if ok && g.now().Sub(last) <= minInterval {
		lease.Release()
		return nil, false, nil
	}
	return lease, true, nil
}

// LastRun returns the persisted time of the last completed run.
func (g *Gate) LastRun(ctx context.Context) (time.Time, bool, error) {
	return g.state.GetTime(ctx, g.key)
}

// InFlight reports whether a lease is currently held.
func (g *Gate) InFlight() bool {
	return g.running.Load()
}

// Complete records t as the last completed run.
func (l *Lease) Complete(ctx context.Context, t time.Time) error {
	return l.gate.state.SetTime(ctx, l.gate.key, t)
}

// Release frees the gate. Calling it more than once is harmless.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.gate.running.Store(false)
	})
}
