package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/scottbass3/regscan/internal/ratelimit"
	"github.com/scottbass3/regscan/internal/registry"
)

const EnvPrefix = "REGSCAN"

type Config struct {
	// Context names the entry of Contexts used when none is requested.
	Context  string    `mapstructure:"context"`
	Contexts []Context `mapstructure:"contexts"`
	// Registry, Username and Password describe an ad-hoc context, mostly set
	// from the environment.
	Registry string `mapstructure:"registry"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	RateLimit       RateLimit     `mapstructure:"rate_limit"`
	PageSize        int           `mapstructure:"page_size"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	MaxConnsPerHost int           `mapstructure:"max_conns_per_host"`
	S3Lookup        bool          `mapstructure:"s3_lookup"`
	Log             Log           `mapstructure:"log"`
	Scan            Scan          `mapstructure:"scan"`
}

type Context struct {
	Name     string `mapstructure:"name" json:"name"`
	Registry string `mapstructure:"registry" json:"registry"`
	Kind     string `mapstructure:"kind" json:"kind,omitempty"`
	Username string `mapstructure:"username" json:"username,omitempty"`
	Password string `mapstructure:"password" json:"password,omitempty"`
	Service  string `mapstructure:"service" json:"service,omitempty"`
	TokenURL string `mapstructure:"token_url" json:"token_url,omitempty"`
	Scope    string `mapstructure:"scope" json:"scope,omitempty"`
}

type RateLimit struct {
	Capacity       int           `mapstructure:"capacity"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
	RefillAmount   int           `mapstructure:"refill_amount"`
	Mode           string        `mapstructure:"mode"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Scan struct {
	MaxImages          int  `mapstructure:"max_images"`
	ImageConcurrency   int  `mapstructure:"image_concurrency"`
	BlobConcurrency    int  `mapstructure:"blob_concurrency"`
	TrustManifestSizes bool `mapstructure:"trust_manifest_sizes"`
	ContinueOnError    bool `mapstructure:"continue_on_error"`
}

func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "regscan", "config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".config", "regscan", "config.yaml")
	}
	return "config.yaml"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("context", "")
	v.SetDefault("registry", "")
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("rate_limit.capacity", registry.DefaultQuota.Capacity)
	v.SetDefault("rate_limit.refill_interval", registry.DefaultQuota.RefillInterval.String())
	v.SetDefault("rate_limit.refill_amount", registry.DefaultQuota.RefillAmount)
	v.SetDefault("rate_limit.mode", ratelimit.ModeSuspending.String())
	v.SetDefault("page_size", registry.DefaultPageSize)
	v.SetDefault("request_timeout", registry.DefaultRequestTimeout.String())
	v.SetDefault("acquire_timeout", "-1ns")
	v.SetDefault("max_conns_per_host", 16)
	v.SetDefault("s3_lookup", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("scan.max_images", 0)
	v.SetDefault("scan.image_concurrency", 8)
	v.SetDefault("scan.blob_concurrency", 16)
	v.SetDefault("scan.trust_manifest_sizes", false)
	v.SetDefault("scan.continue_on_error", false)
}

// Load reads the YAML or JSON file at path on top of the defaults, then
// applies REGSCAN_* environment overrides (REGSCAN_RATE_LIMIT_CAPACITY for
// rate_limit.capacity). A missing file is not an error when optional is set.
func Load(path string, optional bool) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !optional || !(errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Context = strings.TrimSpace(c.Context)
	c.Registry = strings.TrimSpace(c.Registry)
	c.Username = strings.TrimSpace(c.Username)
	for i := range c.Contexts {
		ctx := &c.Contexts[i]
		ctx.Name = strings.TrimSpace(ctx.Name)
		ctx.Registry = strings.TrimSpace(ctx.Registry)
		ctx.Kind = strings.TrimSpace(ctx.Kind)
		ctx.Service = strings.TrimSpace(ctx.Service)
		if ctx.Name == "" {
			ctx.Name = ctx.Registry
		}
	}
	c.RateLimit.Mode = strings.TrimSpace(c.RateLimit.Mode)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
}

func (c Config) Validate() error {
	for i, ctx := range c.Contexts {
		if ctx.Registry == "" {
			return fmt.Errorf("context %d missing registry", i+1)
		}
		auth := ctx.Auth()
		if err := auth.Validate(); err != nil {
			return fmt.Errorf("context %s: %w", ctx.Name, err)
		}
	}
	if err := c.Quota().Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	if _, err := c.Mode(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	return nil
}

func (c Config) Quota() ratelimit.Quota {
	return ratelimit.Quota{
		Capacity:       c.RateLimit.Capacity,
		RefillInterval: c.RateLimit.RefillInterval,
		RefillAmount:   c.RateLimit.RefillAmount,
	}
}

func (c Config) Mode() (ratelimit.Mode, error) {
	return ratelimit.ParseMode(c.RateLimit.Mode)
}

// Resolve picks a context by name or registry host. An empty name selects the
// configured default, then the ad-hoc registry, then the first context.
func (c Config) Resolve(name string) (Context, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.Context
	}
	if name == "" && c.Registry != "" {
		return c.adHoc(c.Registry), nil
	}
	if name == "" {
		if len(c.Contexts) == 0 {
			return Context{}, errors.New("no registry configured")
		}
		return c.Contexts[0], nil
	}
	for _, ctx := range c.Contexts {
		if ctx.Name == name || ctx.Registry == name {
			return ctx, nil
		}
	}
	if strings.ContainsAny(name, ".:/") || name == "localhost" {
		return c.adHoc(name), nil
	}
	return Context{}, fmt.Errorf("unknown context %q", name)
}

func (c Config) adHoc(registryHost string) Context {
	ctx := Context{Name: registryHost, Registry: registryHost, Kind: "none"}
	if c.Username != "" {
		ctx.Kind = "basic"
		ctx.Username = c.Username
		ctx.Password = c.Password
	}
	return ctx
}

func (c Context) Auth() registry.Auth {
	auth := registry.Auth{
		Kind:     c.Kind,
		Username: c.Username,
		Password: c.Password,
		TokenURL: c.TokenURL,
		Service:  c.Service,
		Scope:    c.Scope,
	}
	auth.Normalize()
	return auth
}
