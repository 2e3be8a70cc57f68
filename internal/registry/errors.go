package registry

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"oras.land/oras-go/v2/registry/remote/errcode"
)

var (
	ErrClosed         = errors.New("registry client is closed")
	ErrAcquireTimeout = errors.New("timed out waiting for the request rate limiter")
	// ErrResponseTooLarge is wrapped in a MalformedResponseError.
	ErrResponseTooLarge = errors.New("response body too large")
)

// TransportError is a failure to complete an HTTP call at all.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError reports that credentials could not be obtained or were rejected
// again after a refresh.
type AuthError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authorization for %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("authorization for %s failed: %s", e.URL, statusText(e.StatusCode))
}

func (e *AuthError) Unwrap() error { return e.Err }

// ThrottledError is returned when the registry answers 429. RetryAfter is zero
// when the registry did not say how long to back off.
type ThrottledError struct {
	URL        string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("registry throttled %s, retry after %s", e.URL, e.RetryAfter)
	}
	return fmt.Sprintf("registry throttled %s", e.URL)
}

// MalformedResponseError is a response that could not be interpreted.
type MalformedResponseError struct {
	URL    string
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response from %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed response from %s: %s", e.URL, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// StatusError is any other unsuccessful status. Errors holds the registry's
// error body when it sent one.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Errors     errcode.Errors
}

func (e *StatusError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("%s %s: %s: %s", e.Method, e.URL, statusText(e.StatusCode), e.Errors.Error())
	}
	return fmt.Sprintf("%s %s: %s", e.Method, e.URL, statusText(e.StatusCode))
}

// HasCode reports whether the registry error body carries code.
func (e *StatusError) HasCode(code string) bool {
	for _, item := range e.Errors {
		if item.Code == code {
			return true
		}
	}
	return false
}

// IsThrottled reports whether err came from a 429 response.
func IsThrottled(err error) (*ThrottledError, bool) {
	var throttled *ThrottledError
	if errors.As(err, &throttled) {
		return throttled, true
	}
	return nil, false
}

func statusText(code int) string {
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}
