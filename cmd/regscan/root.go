package main

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scottbass3/regscan/internal/config"
	"github.com/scottbass3/regscan/internal/registry"
)

type rootOptions struct {
	configPath  string
	contextName string
	verbose     bool
	output      string

	cfg     config.Config
	logger  *zap.Logger
	metrics *prometheus.Registry
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "regscan",
		Short:         "Inspect Docker Registry v2 servers without tripping their rate limits",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			opts.logMetrics()
			_ = opts.logger.Sync()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", fmt.Sprintf("config file (default %s)", config.DefaultPath()))
	flags.StringVarP(&opts.contextName, "context", "c", "", "context name or registry host")
	flags.StringVar(&opts.contextName, "registry", "", "registry host (alias of --context)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	flags.StringVarP(&opts.output, "output", "o", "table", "output format: table or json")

	cmd.AddCommand(
		newImagesCmd(opts),
		newTagsCmd(opts),
		newManifestCmd(opts),
		newBlobCmd(opts),
		newHistoryCmd(opts),
		newScanCmd(opts),
		newBrowseCmd(opts),
		newContextCmd(opts),
	)
	return cmd
}

func (o *rootOptions) init(cmd *cobra.Command) error {
	switch o.output {
	case "table", "json":
	default:
		return fmt.Errorf("unsupported output %q (want table or json)", o.output)
	}

	path := o.configPath
	// context commands create the file
	optional := path == "" || (cmd.Parent() != nil && cmd.Parent().Name() == "context")
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, optional)
	if err != nil {
		return err
	}
	o.cfg = cfg

	logger, err := newLogger(cfg.Log.Level, o.verbose)
	if err != nil {
		return err
	}
	o.logger = logger
	o.metrics = prometheus.NewRegistry()
	return nil
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if strings.TrimSpace(level) != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log.level: %w", err)
		}
		lvl = parsed
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = !verbose
	return cfg.Build()
}

func (o *rootOptions) resolveContext() (config.Context, error) {
	return o.cfg.Resolve(o.contextName)
}

// newClient builds a registry client for rc from the loaded settings.
func (o *rootOptions) newClient(rc config.Context, extra ...registry.Option) (*registry.Client, error) {
	mode, err := o.cfg.Mode()
	if err != nil {
		return nil, err
	}
	opts := []registry.Option{
		registry.WithAuth(rc.Auth()),
		registry.WithQuota(o.cfg.Quota()),
		registry.WithLimiterMode(mode),
		registry.WithPageSize(o.cfg.PageSize),
		registry.WithRequestTimeout(o.cfg.RequestTimeout),
		registry.WithAcquireTimeout(o.cfg.AcquireTimeout),
		registry.WithMaxConnsPerHost(o.cfg.MaxConnsPerHost),
		registry.WithLogger(o.logger.With(zap.String("context", rc.Name))),
		registry.WithMetrics(registry.NewMetrics(o.metrics)),
	}
	if o.cfg.S3Lookup {
		opts = append(opts, registry.WithS3HeadObject(registry.DefaultS3ClientFactory()))
	}
	opts = append(opts, extra...)

	client, err := registry.New(rc.Registry, opts...)
	if err != nil {
		return nil, fmt.Errorf("context %s: %w", rc.Name, err)
	}
	return client, nil
}

// withClient resolves the selected context and runs fn with a client that is
// closed afterwards.
func (o *rootOptions) withClient(fn func(*registry.Client) error) error {
	rc, err := o.resolveContext()
	if err != nil {
		return err
	}
	client, err := o.newClient(rc)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	return fn(client)
}
