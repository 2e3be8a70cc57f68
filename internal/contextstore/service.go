package contextstore

import (
	"fmt"
	"strings"

	"github.com/scottbass3/regscan/internal/config"
)

// Service contains pure context CRUD and validation logic.
type Service struct {
	store Store
}

func NewService(path string) Service {
	return Service{store: New(path)}
}

func (s Service) Store() Store {
	return s.store
}

func (s Service) Add(existing []config.Context, candidate config.Context) ([]config.Context, int, error) {
	normalized, err := normalizeContext(candidate)
	if err != nil {
		return nil, -1, err
	}
	if err := ensureUniqueName(existing, normalized.Name, -1); err != nil {
		return nil, -1, err
	}
	updated := append(append([]config.Context{}, existing...), normalized)
	return updated, len(updated) - 1, nil
}

func (s Service) Edit(existing []config.Context, index int, candidate config.Context) ([]config.Context, error) {
	if index < 0 || index >= len(existing) {
		return nil, fmt.Errorf("invalid context selection")
	}
	normalized, err := normalizeContext(candidate)
	if err != nil {
		return nil, err
	}
	if err := ensureUniqueName(existing, normalized.Name, index); err != nil {
		return nil, err
	}
	updated := append([]config.Context{}, existing...)
	updated[index] = normalized
	return updated, nil
}

func (s Service) RemoveByName(existing []config.Context, name string) ([]config.Context, config.Context, int, error) {
	index, ok := ResolveByName(existing, name)
	if !ok {
		return nil, config.Context{}, -1, fmt.Errorf("unknown context: %s", strings.TrimSpace(name))
	}
	removed := existing[index]
	updated := make([]config.Context, 0, len(existing)-1)
	updated = append(updated, existing[:index]...)
	updated = append(updated, existing[index+1:]...)
	return updated, removed, index, nil
}

// ResolveByName matches names first, then registry hosts, ignoring case.
func ResolveByName(contexts []config.Context, name string) (int, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return 0, false
	}
	for i, ctx := range contexts {
		if strings.EqualFold(strings.TrimSpace(ctx.Name), trimmed) {
			return i, true
		}
	}
	for i, ctx := range contexts {
		if strings.EqualFold(strings.TrimSpace(ctx.Registry), trimmed) {
			return i, true
		}
	}
	return 0, false
}

func normalizeContext(candidate config.Context) (config.Context, error) {
	out := config.Context{
		Name:     strings.TrimSpace(candidate.Name),
		Registry: strings.TrimSpace(candidate.Registry),
		Username: strings.TrimSpace(candidate.Username),
		Password: candidate.Password,
		Service:  strings.TrimSpace(candidate.Service),
		TokenURL: strings.TrimSpace(candidate.TokenURL),
		Scope:    strings.TrimSpace(candidate.Scope),
		Kind:     candidate.Kind,
	}
	if out.Name == "" {
		return config.Context{}, fmt.Errorf("context name is required")
	}
	if out.Registry == "" {
		return config.Context{}, fmt.Errorf("registry is required")
	}
	auth := out.Auth()
	if err := auth.Validate(); err != nil {
		return config.Context{}, err
	}
	out.Kind = auth.Kind
	return out, nil
}

func ensureUniqueName(existing []config.Context, name string, skip int) error {
	needle := strings.ToLower(strings.TrimSpace(name))
	for i, ctx := range existing {
		if i == skip {
			continue
		}
		if strings.ToLower(strings.TrimSpace(ctx.Name)) == needle {
			return fmt.Errorf("context %q already exists", name)
		}
	}
	return nil
}
