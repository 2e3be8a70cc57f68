package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	defaultMaxConnsPerHost = 16
	maxResponseBytes       = 32 << 20
)

// Request is one outbound HTTP call.
type Request struct {
	Method string
	URL    string
	Header http.Header
}

// Response carries the status, headers and fully read body of a call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Doer performs HTTP calls. Implementations must be safe for concurrent use.
type Doer interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// HTTPDoer is the default Doer. Its pooled transport is created on first use
// and released by Close. HEAD requests do not follow redirects so callers can
// inspect Location.
type HTTPDoer struct {
	MaxConnsPerHost int
	Timeout         time.Duration
	// MaxBodyBytes caps a response body; zero means 32 MiB.
	MaxBodyBytes int64

	mu     sync.Mutex
	client *http.Client
}

func NewHTTPDoer(maxConnsPerHost int, timeout time.Duration) *HTTPDoer {
	return &HTTPDoer{MaxConnsPerHost: maxConnsPerHost, Timeout: timeout}
}

func (d *HTTPDoer) httpClient() *http.Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client
	}

	maxConns := d.MaxConnsPerHost
	if maxConns <= 0 {
		maxConns = defaultMaxConnsPerHost
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = maxConns
	transport.MaxIdleConnsPerHost = maxConns

	d.client = &http.Client{
		Transport: transport,
		Timeout:   d.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.Method == http.MethodHead || len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return d.client
}

func (d *HTTPDoer) Do(ctx context.Context, r Request) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, nil)
	if err != nil {
		return Response{}, err
	}
	for key, values := range r.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	limit := d.MaxBodyBytes
	if limit <= 0 {
		limit = maxResponseBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return Response{}, err
	}
	if int64(len(body)) > limit {
		return Response{}, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, limit)
	}
	return Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Close drops idle pooled connections. The doer stays usable afterwards.
func (d *HTTPDoer) Close() error {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client != nil {
		client.CloseIdleConnections()
	}
	return nil
}
