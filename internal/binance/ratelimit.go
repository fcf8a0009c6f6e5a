// Package binance implements the rate-limited REST client the extractor
// pulls klines, funding rates and trades through. The client never exceeds
// the exchange's rolling request-weight budget: every call reserves its
// weight with a shared WeightLimiter before touching the network, and a
// token-bucket pacer smooths raw request frequency on top of that.
package binance

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// WeightLimiter bounds outbound request weight against a rolling time
// window. One instance is shared by every worker in a run; all callers see
// the same budget because the exchange enforces one limit per endpoint
// family. Acquire never rejects, it only delays, and grants are served in
// arrival order so no caller starves.
//
// A sliding window is used rather than a token bucket: a bucket with burst B
// refilled at budget/window can hand out nearly twice the budget inside one
// trailing window, which is exactly the violation the exchange bans for.
type WeightLimiter struct {
	window time.Duration
	budget int

	mu      sync.Mutex
	grants  []grant
	used    int
	waiters []chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

type grant struct {
	at     time.Time
	weight int
}

// NewWeightLimiter builds a limiter over the given budget and window.
// A non-positive window defaults to one minute.
func NewWeightLimiter(budget int, window time.Duration) *WeightLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &WeightLimiter{
		window: window,
		budget: budget,
		now:    time.Now,
	}
}

// Acquire blocks until granting weight keeps the trailing-window total within
// budget, then records the grant. It returns early only when ctx is done or
// when weight can never fit in the budget.
func (l *WeightLimiter) Acquire(ctx context.Context, weight int) error {
	if weight <= 0 {
		return nil
	}
	if weight > l.budget {
		return fmt.Errorf("requested weight %d exceeds window budget %d", weight, l.budget)
	}

	ready := make(chan struct{})
	l.mu.Lock()
	l.waiters = append(l.waiters, ready)
	if len(l.waiters) == 1 {
		close(ready)
	}
	l.mu.Unlock()

	// Wait for our turn at the head of the queue.
	select {
	case <-ready:
	case <-ctx.Done():
		l.leave(ready)
		return ctx.Err()
	}

	for {
		l.mu.Lock()
		now := l.now()
		l.pruneLocked(now)
		if l.used+weight <= l.budget {
			l.grants = append(l.grants, grant{at: now, weight: weight})
			l.used += weight
			l.popHeadLocked()
			l.mu.Unlock()
			return nil
		}
		// Oldest grant ages out first; sleep until it leaves the window.
		wakeAt := l.grants[0].at.Add(l.window)
		l.mu.Unlock()

		timer := time.NewTimer(wakeAt.Sub(now))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			l.leave(ready)
			return ctx.Err()
		}
	}
}

// Window reports the weight consumed in the current trailing window and the
// configured budget. Used for log lines, not for decisions.
func (l *WeightLimiter) Window() (used, budget int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return l.used, l.budget
}

func (l *WeightLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.grants) && !l.grants[i].at.After(cutoff) {
		l.used -= l.grants[i].weight
		i++
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
	}
}

// popHeadLocked removes the head waiter and wakes the next one.
func (l *WeightLimiter) popHeadLocked() {
	l.waiters = l.waiters[1:]
	if len(l.waiters) > 0 {
		close(l.waiters[0])
	}
}

// leave removes ready from the waiter queue on cancellation. If the departing
// waiter was at the head, the next waiter takes its turn.
func (l *WeightLimiter) leave(ready chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.waiters {
		if w == ready {
			wasHead := i == 0
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			if wasHead && len(l.waiters) > 0 {
				select {
				case <-l.waiters[0]:
					// already woken
				default:
					close(l.waiters[0])
				}
			}
			return
		}
	}
}
