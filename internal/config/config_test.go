package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottbass3/regscan/internal/ratelimit"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), true)
	require.NoError(t, err)

	assert.Equal(t, ratelimit.Quota{Capacity: 20, RefillInterval: time.Second, RefillAmount: 20}, cfg.Quota())
	mode, err := cfg.Mode()
	require.NoError(t, err)
	assert.Equal(t, ratelimit.ModeSuspending, mode)
	assert.Equal(t, 100, cfg.PageSize)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, ratelimit.NoTimeout, cfg.AcquireTimeout)
	assert.Equal(t, 16, cfg.MaxConnsPerHost)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Scan.ImageConcurrency)
	assert.Empty(t, cfg.Contexts)
}

func TestLoadMissingRequiredFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), false)
	require.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
context: work
contexts:
  - name: work
    registry: https://registry.example.com
    kind: bearer
    username: robot
    password: secret
  - registry: localhost:5000
rate_limit:
  capacity: 4
  refill_interval: 500ms
  refill_amount: 2
  mode: blocking
page_size: 50
acquire_timeout: 2s
s3_lookup: true
scan:
  trust_manifest_sizes: true
`)

	cfg, err := Load(path, false)
	require.NoError(t, err)

	assert.Equal(t, ratelimit.Quota{Capacity: 4, RefillInterval: 500 * time.Millisecond, RefillAmount: 2}, cfg.Quota())
	mode, err := cfg.Mode()
	require.NoError(t, err)
	assert.Equal(t, ratelimit.ModeBlocking, mode)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, 2*time.Second, cfg.AcquireTimeout)
	assert.True(t, cfg.S3Lookup)
	assert.True(t, cfg.Scan.TrustManifestSizes)

	require.Len(t, cfg.Contexts, 2)
	assert.Equal(t, "localhost:5000", cfg.Contexts[1].Name, "name defaults to the registry")

	ctx, err := cfg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "work", ctx.Name)
	auth := ctx.Auth()
	assert.Equal(t, "bearer", auth.Kind)
	assert.Equal(t, "robot", auth.Username)

	ctx, err = cfg.Resolve("localhost:5000")
	require.NoError(t, err)
	assert.Equal(t, "none", ctx.Auth().Kind)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"contexts":[{"name":"hub","registry":"registry-1.docker.io","kind":"registry_v2"}]}`)

	cfg, err := Load(path, false)
	require.NoError(t, err)
	require.Len(t, cfg.Contexts, 1)
	assert.Equal(t, "bearer", cfg.Contexts[0].Auth().Kind)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("REGSCAN_RATE_LIMIT_CAPACITY", "6")
	t.Setenv("REGSCAN_RATE_LIMIT_REFILL_AMOUNT", "3")
	t.Setenv("REGSCAN_RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("REGSCAN_PAGE_SIZE", "25")
	t.Setenv("REGSCAN_LOG_LEVEL", "DEBUG")
	t.Setenv("REGSCAN_REGISTRY", "registry.internal:5000")
	t.Setenv("REGSCAN_USERNAME", "ci")
	t.Setenv("REGSCAN_PASSWORD", "token")

	path := writeConfig(t, "config.yaml", "page_size: 10\n")
	cfg, err := Load(path, false)
	require.NoError(t, err)

	assert.Equal(t, ratelimit.Quota{Capacity: 6, RefillInterval: 2 * time.Second, RefillAmount: 3}, cfg.Quota())
	assert.Equal(t, 25, cfg.PageSize)
	assert.Equal(t, "debug", cfg.Log.Level)

	ctx, err := cfg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "registry.internal:5000", ctx.Registry)
	assert.Equal(t, "basic", ctx.Auth().Kind)
	assert.Equal(t, "ci", ctx.Username)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "refill above capacity", body: "rate_limit:\n  capacity: 1\n  refill_amount: 2\n"},
		{name: "unknown mode", body: "rate_limit:\n  mode: eager\n"},
		{name: "context without registry", body: "contexts:\n  - name: empty\n"},
		{name: "basic without password", body: "contexts:\n  - registry: r.example\n    kind: basic\n    username: u\n"},
		{name: "zero page size", body: "page_size: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.body), false)
			require.Error(t, err)
		})
	}
}

func TestResolve(t *testing.T) {
	cfg := Config{Contexts: []Context{{Name: "a", Registry: "a.example"}, {Name: "b", Registry: "b.example"}}}

	ctx, err := cfg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "a", ctx.Name)

	ctx, err = cfg.Resolve("b.example")
	require.NoError(t, err)
	assert.Equal(t, "b", ctx.Name)

	ctx, err = cfg.Resolve("other.example:443")
	require.NoError(t, err)
	assert.Equal(t, "other.example:443", ctx.Registry)

	_, err = cfg.Resolve("nope")
	require.Error(t, err)

	_, err = Config{}.Resolve("")
	require.Error(t, err)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "regscan", "config.yaml"), DefaultPath())
}
