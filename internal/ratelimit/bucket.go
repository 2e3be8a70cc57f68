package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket holds the token state shared by every Limiter implementation.
// Refill is computed lazily from elapsed time on each access.
type bucket struct {
	quota Quota
	clock func() time.Time

	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

func newBucket(q Quota, clock func() time.Time) *bucket {
	return &bucket{
		quota:      q,
		clock:      clock,
		tokens:     q.Capacity,
		lastRefill: clock(),
	}
}

// refill must be called with mu held. lastRefill only advances by whole
// intervals so a partially elapsed interval still counts toward the next one.
func (b *bucket) refill(now time.Time) {
	if b.tokens >= b.quota.Capacity {
		b.lastRefill = now
		return
	}
	elapsed := now.Sub(b.lastRefill)
	if elapsed < b.quota.RefillInterval {
		return
	}

	intervals := int64(elapsed / b.quota.RefillInterval)
	missing := b.quota.Capacity - b.tokens
	needed := int64((missing + b.quota.RefillAmount - 1) / b.quota.RefillAmount)
	if intervals >= needed {
		b.tokens = b.quota.Capacity
		b.lastRefill = now
		return
	}

	b.tokens += int(intervals) * b.quota.RefillAmount
	b.lastRefill = b.lastRefill.Add(time.Duration(intervals) * b.quota.RefillInterval)
}

func (b *bucket) check(permits int) error {
	if permits <= 0 {
		return ErrInvalidPermits
	}
	if permits > b.quota.Capacity {
		return ErrPermitsExceedCapacity
	}
	return nil
}

// take refills and deducts permits in one critical section. When the bucket
// cannot cover the request it reports how long until it could.
func (b *bucket) take(permits int) (bool, time.Duration, error) {
	if err := b.check(permits); err != nil {
		return false, 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.refill(now)
	if b.tokens >= permits {
		b.tokens -= permits
		return true, 0, nil
	}

	deficit := permits - b.tokens
	intervals := (deficit + b.quota.RefillAmount - 1) / b.quota.RefillAmount
	ready := b.lastRefill.Add(time.Duration(intervals) * b.quota.RefillInterval)
	return false, ready.Sub(now), nil
}

func (b *bucket) available() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.clock())
	return b.tokens
}

type waitFunc func(ctx context.Context, d time.Duration) error

// acquire is the retry loop behind every Acquire. The bucket lock is never
// held while waiting.
func (b *bucket) acquire(ctx context.Context, permits int, timeout time.Duration, wait waitFunc) (bool, error) {
	ok, delay, err := b.take(permits)
	if err != nil || ok {
		return ok, err
	}
	if timeout == 0 {
		return false, nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = b.clock().Add(timeout)
	}

	for {
		if !deadline.IsZero() && delay > deadline.Sub(b.clock()) {
			return false, nil
		}
		if err := wait(ctx, delay); err != nil {
			return false, err
		}
		ok, delay, err = b.take(permits)
		if err != nil || ok {
			return ok, err
		}
	}
}
