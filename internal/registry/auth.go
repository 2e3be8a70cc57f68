package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// Authorizer supplies the Authorization header for registry requests. With
// forceRefresh set it must discard any cached credential first.
type Authorizer interface {
	AuthorizationHeader(ctx context.Context, forceRefresh bool) (string, error)
}

// ChallengeObserver is implemented by authorizers that learn from the
// WWW-Authenticate header of a 401 before refreshing.
type ChallengeObserver interface {
	ObserveChallenge(header string)
}

type AuthorizerFunc func(ctx context.Context, forceRefresh bool) (string, error)

func (f AuthorizerFunc) AuthorizationHeader(ctx context.Context, forceRefresh bool) (string, error) {
	return f(ctx, forceRefresh)
}

// Anonymous sends no credentials.
var Anonymous Authorizer = AuthorizerFunc(func(context.Context, bool) (string, error) {
	return "", nil
})

type Auth struct {
	Kind     string `mapstructure:"kind" json:"kind"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password"`
	TokenURL string `mapstructure:"token_url" json:"token_url"`
	Service  string `mapstructure:"service" json:"service"`
	Scope    string `mapstructure:"scope" json:"scope"`
}

func (a *Auth) Normalize() {
	kind := strings.ToLower(strings.TrimSpace(a.Kind))
	switch kind {
	case "", "anonymous":
		kind = "none"
	case "token", "registry", "registry_v2", "v2":
		kind = "bearer"
	}
	a.Kind = kind
	a.Username = strings.TrimSpace(a.Username)
	a.Password = strings.TrimSpace(a.Password)
	a.TokenURL = strings.TrimSpace(a.TokenURL)
	a.Service = strings.TrimSpace(a.Service)
	a.Scope = strings.TrimSpace(a.Scope)
}

func (a Auth) Validate() error {
	switch a.Kind {
	case "none":
		return nil
	case "basic":
		if a.Username == "" || a.Password == "" {
			return fmt.Errorf("basic auth requires username and password")
		}
		return nil
	case "bearer":
		if (a.Username == "") != (a.Password == "") {
			return fmt.Errorf("bearer auth requires both username and password, or neither")
		}
		return nil
	default:
		return fmt.Errorf("unsupported auth method: %s", a.Kind)
	}
}

// NewAuthorizer builds the Authorizer described by auth. Bearer token
// requests go through doer.
func NewAuthorizer(auth Auth, baseURL *url.URL, doer Doer) (Authorizer, error) {
	auth.Normalize()
	if err := auth.Validate(); err != nil {
		return nil, err
	}
	switch auth.Kind {
	case "basic":
		return BasicAuthorizer(auth.Username, auth.Password), nil
	case "bearer":
		return NewBearerAuthorizer(doer, BearerConfig{
			Username: auth.Username,
			Password: auth.Password,
			TokenURL: auth.TokenURL,
			Service:  serviceOrHost(auth.Service, baseURL),
			Scope:    auth.Scope,
		}), nil
	default:
		return Anonymous, nil
	}
}

func BasicAuthorizer(username, password string) Authorizer {
	header := basicHeader(username, password)
	return AuthorizerFunc(func(context.Context, bool) (string, error) {
		return header, nil
	})
}

func basicHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func serviceOrHost(service string, baseURL *url.URL) string {
	if service != "" || baseURL == nil {
		return service
	}
	return baseURL.Host
}

type scopeKey struct{}

// ContextWithScope records the token scope a request needs, e.g.
// "repository:library/alpine:pull".
func ContextWithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

func ScopeFromContext(ctx context.Context) string {
	scope, _ := ctx.Value(scopeKey{}).(string)
	return scope
}

func catalogScope() string {
	return "registry:catalog:*"
}

func repositoryScope(image string) string {
	return "repository:" + image + ":pull"
}
