package ratelimit

import "errors"

var (
	ErrInvalidQuota          = errors.New("ratelimit: invalid quota")
	ErrInvalidPermits        = errors.New("ratelimit: permits must be positive")
	ErrPermitsExceedCapacity = errors.New("ratelimit: permits exceed capacity")
)
