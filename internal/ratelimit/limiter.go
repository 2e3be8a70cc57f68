// Package ratelimit implements a token bucket admission controller with a
// non-blocking check and two waiting strategies: one that sleeps the calling
// goroutine and one that suspends on a timer and honours context cancellation.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// NoTimeout makes Acquire wait until the permits are granted or the context ends.
const NoTimeout time.Duration = -1

// Limiter grants permits against a Quota. Implementations are safe for
// concurrent use.
type Limiter interface {
	// TryAcquire takes permits if they are available right now.
	TryAcquire(permits int) (bool, error)
	// Acquire waits up to timeout for permits. A zero timeout behaves like
	// TryAcquire. It returns false with a nil error only when the timeout
	// runs out first; a cancelled context returns the context's error.
	Acquire(ctx context.Context, permits int, timeout time.Duration) (bool, error)
	// Available reports the permits that could be taken right now.
	Available() int
	Quota() Quota
}

type Mode int

const (
	ModeSuspending Mode = iota
	ModeBlocking
)

func (m Mode) String() string {
	switch m {
	case ModeBlocking:
		return "blocking"
	default:
		return "suspending"
	}
}

func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "suspending", "async":
		return ModeSuspending, nil
	case "blocking", "sync":
		return ModeBlocking, nil
	default:
		return ModeSuspending, fmt.Errorf("unknown limiter mode: %s", value)
	}
}

type options struct {
	mode  Mode
	clock func() time.Time
	sleep func(time.Duration)
}

type Option func(*options)

func WithMode(mode Mode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithClock replaces time.Now for refill accounting.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithSleep replaces time.Sleep in the blocking limiter.
func WithSleep(sleep func(time.Duration)) Option {
	return func(o *options) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		mode:  ModeSuspending,
		clock: time.Now,
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the limiter selected by WithMode (suspending by default).
func New(q Quota, opts ...Option) (Limiter, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	if o.mode == ModeBlocking {
		return newBlocking(q, o), nil
	}
	return newSuspending(q, o), nil
}

// Blocking waits by sleeping the calling goroutine. The context is only
// consulted between sleeps.
type Blocking struct {
	b     *bucket
	sleep func(time.Duration)
}

func NewBlocking(q Quota, opts ...Option) (*Blocking, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return newBlocking(q, buildOptions(opts)), nil
}

func newBlocking(q Quota, o options) *Blocking {
	return &Blocking{b: newBucket(q, o.clock), sleep: o.sleep}
}

func (l *Blocking) TryAcquire(permits int) (bool, error) {
	ok, _, err := l.b.take(permits)
	return ok, err
}

func (l *Blocking) Acquire(ctx context.Context, permits int, timeout time.Duration) (bool, error) {
	return l.b.acquire(ctx, permits, timeout, func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.sleep(d)
		return ctx.Err()
	})
}

func (l *Blocking) Available() int { return l.b.available() }

func (l *Blocking) Quota() Quota { return l.b.quota }

// Suspending waits on a timer in a select with ctx.Done, so a cancelled
// caller leaves immediately without consuming permits.
type Suspending struct {
	b *bucket
}

func NewSuspending(q Quota, opts ...Option) (*Suspending, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return newSuspending(q, buildOptions(opts)), nil
}

func newSuspending(q Quota, o options) *Suspending {
	return &Suspending{b: newBucket(q, o.clock)}
}

func (l *Suspending) TryAcquire(permits int) (bool, error) {
	ok, _, err := l.b.take(permits)
	return ok, err
}

func (l *Suspending) Acquire(ctx context.Context, permits int, timeout time.Duration) (bool, error) {
	return l.b.acquire(ctx, permits, timeout, suspend)
}

func (l *Suspending) Available() int { return l.b.available() }

func (l *Suspending) Quota() Quota { return l.b.quota }

func suspend(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	_ Limiter = (*Blocking)(nil)
	_ Limiter = (*Suspending)(nil)
)
