package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const tokenExpiryLeeway = 30 * time.Second

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	IssuedAt     string `json:"issued_at"`
}

func decodeTokenResponse(body []byte, now time.Time) (string, time.Time, error) {
	var payload tokenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", time.Time{}, err
	}
	token := firstNonEmptyToken(payload.IDToken, payload.AccessToken, payload.Token)
	expiry := now.Add(time.Duration(payload.ExpiresIn) * time.Second)
	if payload.ExpiresIn == 0 {
		expiry = now.Add(5 * time.Minute)
	}
	return token, expiry, nil
}

func parseBearerChallenge(value string) (realm, service, scope string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "", "", false
	}

	for _, segment := range splitLinkValues(parts[1]) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		kv := strings.SplitN(segment, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		switch key {
		case "realm":
			realm = val
		case "service":
			service = val
		case "scope":
			scope = val
		}
	}
	if realm == "" {
		return "", "", "", false
	}
	return realm, service, scope, true
}

func isBasicChallenge(value string) bool {
	scheme, _, _ := strings.Cut(strings.TrimSpace(value), " ")
	return strings.EqualFold(scheme, "Basic")
}

type BearerConfig struct {
	Username string
	Password string
	// TokenURL is the token realm. Left empty, it is learned from the first
	// 401 challenge.
	TokenURL string
	Service  string
	// Scope is used when the request context carries none.
	Scope string
}

type cachedToken struct {
	value  string
	expiry time.Time
}

// BearerAuthorizer implements the registry token flow. Tokens are cached per
// scope; the scope of a request is taken from its context.
type BearerAuthorizer struct {
	doer Doer
	cfg  BearerConfig
	now  func() time.Time

	mu        sync.Mutex
	realm     string
	service   string
	challenge string
	basic     bool
	tokens    map[string]cachedToken
}

func NewBearerAuthorizer(doer Doer, cfg BearerConfig) *BearerAuthorizer {
	return &BearerAuthorizer{
		doer:    doer,
		cfg:     cfg,
		now:     time.Now,
		realm:   cfg.TokenURL,
		service: cfg.Service,
		tokens:  make(map[string]cachedToken),
	}
}

func (a *BearerAuthorizer) ObserveChallenge(header string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if isBasicChallenge(header) && a.cfg.Username != "" {
		a.basic = true
		return
	}
	realm, service, scope, ok := parseBearerChallenge(header)
	if !ok {
		return
	}
	a.realm = realm
	if service != "" {
		a.service = service
	}
	a.challenge = scope
}

// AuthorizationHeader returns "" until a token realm is known, so the first
// request goes out anonymously and its 401 challenge configures the flow.
// The lock is held across the token fetch so concurrent callers share one
// refresh.
func (a *BearerAuthorizer) AuthorizationHeader(ctx context.Context, forceRefresh bool) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.basic {
		return basicHeader(a.cfg.Username, a.cfg.Password), nil
	}
	if a.realm == "" {
		if forceRefresh {
			return "", fmt.Errorf("no bearer challenge received")
		}
		return "", nil
	}

	scope := ScopeFromContext(ctx)
	if scope == "" {
		scope = a.cfg.Scope
	}
	if scope == "" {
		scope = a.challenge
	}

	if !forceRefresh {
		if cached, ok := a.tokens[scope]; ok && a.now().Add(tokenExpiryLeeway).Before(cached.expiry) {
			return "Bearer " + cached.value, nil
		}
	}
	delete(a.tokens, scope)

	token, expiry, err := a.fetchToken(ctx, scope)
	if err != nil {
		return "", err
	}
	a.tokens[scope] = cachedToken{value: token, expiry: expiry}
	return "Bearer " + token, nil
}

func (a *BearerAuthorizer) fetchToken(ctx context.Context, scope string) (string, time.Time, error) {
	tokenURL, err := url.Parse(a.realm)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid token realm: %w", err)
	}
	query := tokenURL.Query()
	if a.service != "" {
		query.Set("service", a.service)
	}
	if scope != "" {
		query.Set("scope", scope)
	}
	tokenURL.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("Accept", "application/json")
	if a.cfg.Username != "" {
		header.Set("Authorization", basicHeader(a.cfg.Username, a.cfg.Password))
	}

	resp, err := a.doer.Do(ctx, Request{Method: http.MethodGet, URL: tokenURL.String(), Header: header})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token request: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", time.Time{}, fmt.Errorf("token request failed: %s", statusText(resp.StatusCode))
	}

	token, expiry, err := decodeTokenResponse(resp.Body, a.now())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if token == "" {
		return "", time.Time{}, fmt.Errorf("token response missing token")
	}
	return token, expiry, nil
}

func firstNonEmptyToken(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
