package ratelimit

import (
	"fmt"
	"time"
)

// Quota describes a token bucket: up to Capacity permits, topped up by
// RefillAmount permits every RefillInterval.
type Quota struct {
	Capacity       int
	RefillInterval time.Duration
	RefillAmount   int
}

// PerInterval returns a quota that grants n permits per interval with a burst of n.
func PerInterval(n int, interval time.Duration) Quota {
	return Quota{Capacity: n, RefillInterval: interval, RefillAmount: n}
}

func (q Quota) Validate() error {
	switch {
	case q.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidQuota, q.Capacity)
	case q.RefillAmount <= 0:
		return fmt.Errorf("%w: refill amount must be positive, got %d", ErrInvalidQuota, q.RefillAmount)
	case q.RefillAmount > q.Capacity:
		return fmt.Errorf("%w: refill amount %d exceeds capacity %d", ErrInvalidQuota, q.RefillAmount, q.Capacity)
	case q.RefillInterval <= 0:
		return fmt.Errorf("%w: refill interval must be positive, got %s", ErrInvalidQuota, q.RefillInterval)
	}
	return nil
}

func (q Quota) String() string {
	return fmt.Sprintf("%d/%s (burst %d)", q.RefillAmount, q.RefillInterval, q.Capacity)
}
