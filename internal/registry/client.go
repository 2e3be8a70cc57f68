package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"oras.land/oras-go/v2/registry/remote/errcode"

	"github.com/scottbass3/regscan/internal/pager"
	"github.com/scottbass3/regscan/internal/ratelimit"
)

const (
	DefaultPageSize       = 100
	DefaultRequestTimeout = 15 * time.Second
)

// DefaultQuota allows bursts of 20 requests and 20 more every second.
var DefaultQuota = ratelimit.PerInterval(20, time.Second)

// Client talks to one registry over the Docker Registry HTTP API v2. Every
// request, including the retry after a credential refresh, first takes one
// permit from the client's limiter. A Client is safe for concurrent use.
type Client struct {
	baseURL        *url.URL
	doer           Doer
	ownedDoer      *HTTPDoer
	auth           Authorizer
	authCfg        *Auth
	limiter        ratelimit.Limiter
	quota          ratelimit.Quota
	mode           ratelimit.Mode
	maxConns       int
	pageSize       int
	requestTimeout time.Duration
	acquireTimeout time.Duration
	logger         *zap.Logger
	requestLogger  RequestLogger
	metrics        *Metrics
	s3             *s3Lookup
	now            func() time.Time

	closed atomic.Bool
}

type Option func(*Client)

func WithAuthorizer(auth Authorizer) Option {
	return func(c *Client) {
		if auth != nil {
			c.auth = auth
		}
	}
}

// WithAuth builds the authorizer from auth once the client's doer exists,
// so bearer token requests share its connection pool.
func WithAuth(auth Auth) Option {
	return func(c *Client) { c.authCfg = &auth }
}

// WithQuota sets the quota of the limiter the client builds. It has no effect
// together with WithLimiter.
func WithQuota(q ratelimit.Quota) Option {
	return func(c *Client) { c.quota = q }
}

func WithLimiterMode(mode ratelimit.Mode) Option {
	return func(c *Client) { c.mode = mode }
}

// WithLimiter shares an existing limiter, e.g. between clients of the same
// registry.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.maxConns = n }
}

func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRequestTimeout bounds each HTTP call. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithAcquireTimeout bounds the wait for a limiter permit. The default is
// ratelimit.NoTimeout.
func WithAcquireTimeout(d time.Duration) Option {
	return func(c *Client) { c.acquireTimeout = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithRequestLogger(logger RequestLogger) Option {
	return func(c *Client) { c.requestLogger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New returns a client for the registry at baseURL. A missing scheme
// defaults to https.
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:        parsed,
		quota:          DefaultQuota,
		mode:           ratelimit.ModeSuspending,
		pageSize:       DefaultPageSize,
		requestTimeout: DefaultRequestTimeout,
		acquireTimeout: ratelimit.NoTimeout,
		logger:         zap.NewNop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.limiter == nil {
		limiter, err := ratelimit.New(c.quota, ratelimit.WithMode(c.mode))
		if err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		c.limiter = limiter
	}
	if c.doer == nil {
		c.ownedDoer = NewHTTPDoer(c.maxConns, 0)
		c.doer = c.ownedDoer
	}
	if c.authCfg != nil {
		auth, err := NewAuthorizer(*c.authCfg, c.baseURL, c.doer)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("auth: %w", err)
		}
		c.auth = auth
	}
	if c.auth == nil {
		c.auth = Anonymous
	}

	c.logger = c.logger.With(zap.String("registry", parsed.Host))
	return c, nil
}

func normalizeBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("registry host is required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid registry host: %w", err)
	}
	if parsed.Host == "" {
		return nil, errors.New("registry host must include a host name")
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) Host() string {
	return c.baseURL.Host
}

func (c *Client) Limiter() ratelimit.Limiter {
	return c.limiter
}

// Close releases pooled connections. Calls made afterwards fail with
// ErrClosed, and so does a second Close.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if c.ownedDoer != nil {
		return c.ownedDoer.Close()
	}
	return nil
}

// CatalogPager lists repository names.
func (c *Client) CatalogPager() *pager.Pager[string] {
	return c.ResumeCatalog("")
}

// ResumeCatalog continues a catalog listing from a cursor previously
// reported by Pager.Cursor.
func (c *Client) ResumeCatalog(cursor string) *pager.Pager[string] {
	return pager.Resume(c.listFetch("/v2/_catalog", catalogScope(), "repositories", false), cursor,
		pager.WithPageSize(c.pageSize))
}

// ImageTagPager lists the tags of image. An image the registry does not know
// yields an empty sequence.
func (c *Client) ImageTagPager(image string) *pager.Pager[string] {
	return c.ResumeImageTags(image, "")
}

func (c *Client) ResumeImageTags(image, cursor string) *pager.Pager[string] {
	image = strings.Trim(strings.TrimSpace(image), "/")
	return pager.Resume(c.listFetch("/v2/"+image+"/tags/list", repositoryScope(image), "tags", true), cursor,
		pager.WithPageSize(c.pageSize))
}

func (c *Client) listFetch(path, scope, key string, nameUnknownEnds bool) pager.FetchFunc[string] {
	return func(ctx context.Context, req pager.Request) (pager.Page[string], error) {
		endpoint := req.Cursor
		if endpoint == "" {
			endpoint = resolveURL(c.baseURL, path, url.Values{"n": []string{strconv.Itoa(req.Size)}})
		} else if !sameOrigin(c.baseURL, endpoint) {
			// credentials are only sent to the registry itself
			return pager.Page[string]{}, &MalformedResponseError{URL: endpoint, Reason: "cursor points outside the registry"}
		}

		header := http.Header{}
		header.Set("Accept", "application/json")
		resp, err := c.do(ContextWithScope(ctx, scope), Request{Method: http.MethodGet, URL: endpoint, Header: header})
		if err != nil {
			return pager.Page[string]{}, err
		}
		if err := c.classify(http.MethodGet, endpoint, resp); err != nil {
			var statusErr *StatusError
			if nameUnknownEnds && errors.As(err, &statusErr) &&
				statusErr.StatusCode == http.StatusNotFound && statusErr.HasCode(errcode.ErrorCodeNameUnknown) {
				return pager.Page[string]{}, nil
			}
			return pager.Page[string]{}, err
		}

		var payload map[string]json.RawMessage
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			return pager.Page[string]{}, &MalformedResponseError{URL: endpoint, Reason: "decode body", Err: err}
		}
		var items []string
		if raw, ok := payload[key]; ok {
			if err := json.Unmarshal(raw, &items); err != nil {
				return pager.Page[string]{}, &MalformedResponseError{URL: endpoint, Reason: "decode " + key, Err: err}
			}
		}

		next, err := nextLink(resp.Header)
		if err != nil {
			return pager.Page[string]{}, &MalformedResponseError{URL: endpoint, Reason: "parse Link header", Err: err}
		}
		nextURL := resolveNextURL(c.baseURL, next)
		if nextURL != "" && !sameOrigin(c.baseURL, nextURL) {
			return pager.Page[string]{}, &MalformedResponseError{URL: endpoint, Reason: "next link points outside the registry"}
		}
		return pager.Page[string]{Items: items, Next: nextURL}, nil
	}
}

// do runs one logical request: a permit, the current credential, the call,
// and on 401 a single forced refresh followed by one retry.
func (c *Client) do(ctx context.Context, req Request) (Response, error) {
	if c.closed.Load() {
		return Response{}, ErrClosed
	}

	resp, err := c.attempt(ctx, req, false)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	if observer, ok := c.auth.(ChallengeObserver); ok {
		observer.ObserveChallenge(resp.Header.Get("WWW-Authenticate"))
	}
	c.logger.Info("refreshing registry credentials", zap.String("url", req.URL))

	resp, err = c.attempt(ctx, req, true)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return resp, &AuthError{URL: req.URL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, req Request, forceRefresh bool) (Response, error) {
	if err := c.acquire(ctx); err != nil {
		return Response{}, err
	}

	authorization, err := c.auth.AuthorizationHeader(ctx, forceRefresh)
	if err != nil {
		return Response{}, &AuthError{URL: req.URL, Err: err}
	}
	out := Request{Method: req.Method, URL: req.URL, Header: req.Header.Clone()}
	if out.Header == nil {
		out.Header = http.Header{}
	}
	if authorization != "" {
		out.Header.Set("Authorization", authorization)
	}

	return c.send(ctx, out)
}

// send performs a call with no limiter or credential handling.
func (c *Client) send(ctx context.Context, req Request) (Response, error) {
	callCtx := ctx
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.doer.Do(callCtx, req)
	took := time.Since(start)
	c.logRequest(req, resp, took, err)
	if err != nil {
		c.metrics.observeRequest(req.Method, 0)
		if errors.Is(err, ErrResponseTooLarge) {
			return Response{}, &MalformedResponseError{URL: req.URL, Reason: "body too large", Err: err}
		}
		return Response{}, &TransportError{Method: req.Method, URL: req.URL, Err: err}
	}
	c.metrics.observeRequest(req.Method, resp.StatusCode)
	return resp, nil
}

func (c *Client) acquire(ctx context.Context) error {
	start := time.Now()
	ok, err := c.limiter.Acquire(ctx, 1, c.acquireTimeout)
	waited := time.Since(start)
	c.metrics.observeWait(waited.Seconds())
	if err != nil {
		return fmt.Errorf("acquire request permit: %w", err)
	}
	if !ok {
		c.logger.Warn("rate limiter wait timed out", zap.Duration("timeout", c.acquireTimeout))
		return ErrAcquireTimeout
	}
	if waited >= 10*time.Millisecond {
		c.logger.Debug("waited for rate limiter", zap.Duration("waited", waited))
	}
	return nil
}

// classify turns a non-success response into a typed error.
func (c *Client) classify(method, endpoint string, resp Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{URL: endpoint, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		c.logger.Warn("registry throttled request",
			zap.String("url", endpoint),
			zap.Duration("retry_after", retryAfter))
		return &ThrottledError{URL: endpoint, RetryAfter: retryAfter}
	default:
		return &StatusError{
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Errors:     decodeErrors(resp.Body),
		}
	}
}

func decodeErrors(body []byte) errcode.Errors {
	if len(body) == 0 {
		return nil
	}
	var payload struct {
		Errors errcode.Errors `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	return payload.Errors
}
