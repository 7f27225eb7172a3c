// Package throttler gates outgoing requests against the exchange rate limits.
package throttler

import (
	"context"
	"sync"
	"time"

	"github.com/quantfabric/paradise/errs"
	"github.com/quantfabric/paradise/internal/clock"
)

// pollInterval bounds how long a queued waiter sleeps before re-checking its
// turn. Head waiters sleep until the next window expiry instead.
const pollInterval = 10 * time.Millisecond

// LinkedLimit names another bucket consumed alongside the primary one, with
// the weight deducted from it per request.
type LinkedLimit struct {
	ID     string
	Weight int
}

// RateLimit describes one bucket: capacity per rolling interval plus the
// linked buckets drained by every acquisition.
type RateLimit struct {
	ID           string
	Limit        int
	Interval     time.Duration
	LinkedLimits []LinkedLimit
}

type hit struct {
	at     time.Time
	weight int
}

type bucket struct {
	limit RateLimit
	hits  []hit
	queue []uint64
}

// prune drops hits that have rolled out of the window.
func (b *bucket) prune(now time.Time) {
	cutoff := now.Add(-b.limit.Interval)
	idx := 0
	for idx < len(b.hits) && !b.hits[idx].at.After(cutoff) {
		idx++
	}
	if idx > 0 {
		b.hits = append(b.hits[:0], b.hits[idx:]...)
	}
}

func (b *bucket) used() int {
	total := 0
	for _, h := range b.hits {
		total += h.weight
	}
	return total
}

// nextExpiry returns when the oldest hit leaves the window.
func (b *bucket) nextExpiry() time.Time {
	return b.hits[0].at.Add(b.limit.Interval)
}

// Throttler serves acquisitions FIFO per bucket. A request is admitted only
// when it heads the queue of its bucket and of every linked bucket and all of
// them have headroom in their rolling windows; otherwise the caller suspends
// until headroom exists. Buckets couple only through shared linked limits, so
// a saturated bucket never delays traffic on unrelated ones.
type Throttler struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	nextTicket uint64
	clock      clock.Clock
}

// New validates the limit set and builds a throttler over it.
func New(clk clock.Clock, limits []RateLimit) (*Throttler, error) {
	if clk == nil {
		clk = clock.System{}
	}
	buckets := make(map[string]*bucket, len(limits))
	for _, limit := range limits {
		if limit.ID == "" || limit.Limit <= 0 || limit.Interval <= 0 {
			return nil, errs.New("throttler", errs.CodeConfig, errs.WithMessage("rate limit "+limit.ID+" requires positive limit and interval"))
		}
		if _, dup := buckets[limit.ID]; dup {
			return nil, errs.New("throttler", errs.CodeConfig, errs.WithMessage("duplicate rate limit id "+limit.ID))
		}
		buckets[limit.ID] = &bucket{limit: limit}
	}
	for _, limit := range limits {
		for _, linked := range limit.LinkedLimits {
			target, ok := buckets[linked.ID]
			if !ok {
				return nil, errs.New("throttler", errs.CodeConfig, errs.WithMessage("rate limit "+limit.ID+" links unknown bucket "+linked.ID))
			}
			if linked.Weight <= 0 || linked.Weight > target.limit.Limit {
				return nil, errs.New("throttler", errs.CodeConfig, errs.WithMessage("rate limit "+limit.ID+" has invalid weight for bucket "+linked.ID))
			}
		}
	}
	return &Throttler{buckets: buckets, clock: clk}, nil
}

// Acquire blocks until the bucket identified by limitID and all its linked
// buckets have headroom, then records the weighted consumption. Waiters on
// the same bucket are served in arrival order. Unknown ids are configuration
// errors; context cancellation is returned as-is.
func (t *Throttler) Acquire(ctx context.Context, limitID string) error {
	t.mu.Lock()
	b, ok := t.buckets[limitID]
	if !ok {
		t.mu.Unlock()
		return errs.New("throttler", errs.CodeConfig, errs.WithMessage("unknown rate limit id "+limitID))
	}

	ticket := t.nextTicket
	t.nextTicket++
	touched := t.touchedLocked(b)
	for _, tb := range touched {
		tb.queue = append(tb.queue, ticket)
	}

	for {
		var sleep time.Duration
		if atHead(touched, ticket) {
			now := t.clock.Now()
			wait := t.headroomWaitLocked(b, now)
			if wait <= 0 {
				t.recordLocked(b, now)
				dropTicket(touched, ticket)
				t.mu.Unlock()
				return nil
			}
			sleep = wait
		} else {
			sleep = pollInterval
		}
		t.mu.Unlock()

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.mu.Lock()
			dropTicket(touched, ticket)
			t.mu.Unlock()
			return ctx.Err()
		case <-timer.C:
		}
		t.mu.Lock()
	}
}

// touchedLocked returns the buckets one acquisition consumes: the primary
// bucket plus its linked limits.
func (t *Throttler) touchedLocked(b *bucket) []*bucket {
	touched := make([]*bucket, 0, 1+len(b.limit.LinkedLimits))
	touched = append(touched, b)
	for _, linked := range b.limit.LinkedLimits {
		touched = append(touched, t.buckets[linked.ID])
	}
	return touched
}

// atHead reports whether the ticket is first in line on every touched bucket.
// Tickets are issued in increasing order and enqueued atomically under mu, so
// the oldest waiter always heads all of its queues and progress is guaranteed.
func atHead(touched []*bucket, ticket uint64) bool {
	for _, tb := range touched {
		if len(tb.queue) == 0 || tb.queue[0] != ticket {
			return false
		}
	}
	return true
}

func dropTicket(touched []*bucket, ticket uint64) {
	for _, tb := range touched {
		for i, queued := range tb.queue {
			if queued == ticket {
				tb.queue = append(tb.queue[:i], tb.queue[i+1:]...)
				break
			}
		}
	}
}

// headroomWaitLocked reports how long until the acquisition could fit, or
// zero when it fits now.
func (t *Throttler) headroomWaitLocked(b *bucket, now time.Time) time.Duration {
	wait := time.Duration(0)
	check := func(target *bucket, weight int) {
		target.prune(now)
		if target.used()+weight > target.limit.Limit {
			if d := target.nextExpiry().Sub(now); wait == 0 || d < wait {
				wait = d
			}
		}
	}
	check(b, 1)
	for _, linked := range b.limit.LinkedLimits {
		check(t.buckets[linked.ID], linked.Weight)
	}
	if wait <= 0 {
		return 0
	}
	return wait
}

func (t *Throttler) recordLocked(b *bucket, now time.Time) {
	b.hits = append(b.hits, hit{at: now, weight: 1})
	for _, linked := range b.limit.LinkedLimits {
		target := t.buckets[linked.ID]
		target.hits = append(target.hits, hit{at: now, weight: linked.Weight})
	}
}

// PairLimitID builds the compound id for a pair-scoped bucket layered under a
// base endpoint limit.
func PairLimitID(baseLimitID string, pair string) string {
	return baseLimitID + "-" + pair
}
