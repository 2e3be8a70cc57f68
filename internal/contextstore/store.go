package contextstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/scottbass3/regscan/internal/config"
)

// State is the context part of the config file.
type State struct {
	Current  string           `mapstructure:"context"`
	Contexts []config.Context `mapstructure:"contexts"`
}

// Store persists registry contexts in the regscan config file. Other settings
// in the file are kept as they are.
type Store struct {
	path string
}

func New(path string) Store {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = config.DefaultPath()
	}
	return Store{path: trimmed}
}

func (s Store) Path() string {
	return s.path
}

// Load reads the stored contexts. A missing file holds none.
func (s Store) Load() (State, error) {
	v, err := s.read()
	if err != nil {
		return State{}, err
	}
	var state State
	if err := v.Unmarshal(&state); err != nil {
		return State{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return state, nil
}

func (s Store) Save(state State) error {
	v, err := s.read()
	if err != nil {
		return err
	}
	v.Set("context", state.Current)
	contexts := make([]map[string]any, 0, len(state.Contexts))
	for _, ctx := range state.Contexts {
		contexts = append(contexts, contextFields(ctx))
	}
	v.Set("contexts", contexts)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

func (s Store) read() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(s.path)
	if filepath.Ext(s.path) == "" {
		v.SetConfigType("yaml")
	}
	v.SetConfigPermissions(0o600)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return v, nil
}

func contextFields(ctx config.Context) map[string]any {
	fields := map[string]any{
		"name":     ctx.Name,
		"registry": ctx.Registry,
		"kind":     ctx.Kind,
	}
	optional := map[string]string{
		"username":  ctx.Username,
		"password":  ctx.Password,
		"service":   ctx.Service,
		"token_url": ctx.TokenURL,
		"scope":     ctx.Scope,
	}
	for key, value := range optional {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}
