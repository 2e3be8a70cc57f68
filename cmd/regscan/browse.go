package main

import (
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scottbass3/regscan/internal/config"
	"github.com/scottbass3/regscan/internal/registry"
	"github.com/scottbass3/regscan/internal/tui"
)

func newBrowseCmd(root *rootOptions) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse images, tags and manifests interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc, err := root.browseContext()
			if err != nil {
				return err
			}

			// zap output would tear the alternate screen; requests go to the panel
			root.logger = zap.NewNop()
			var logCh chan string
			var extra []registry.Option
			if root.verbose {
				logCh = make(chan string, 256)
				extra = append(extra, registry.WithRequestLogger(makeRequestLogger(logCh)))
			}

			client, err := root.newClient(rc, extra...)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			model := tui.NewModel(client, tui.Options{
				Context:   rc.Name,
				Debug:     root.verbose,
				LogCh:     logCh,
				BatchSize: batch,
				Timeout:   root.browseTimeout(),
			})
			_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 50, "entries loaded per step")
	return cmd
}

// browseContext asks the user to pick a context when several are configured
// and none was selected.
func (o *rootOptions) browseContext() (config.Context, error) {
	if o.contextName != "" || o.cfg.Context != "" || o.cfg.Registry != "" || len(o.cfg.Contexts) < 2 {
		return o.resolveContext()
	}
	rc, err := selectContextTUI(o.cfg.Contexts)
	if err != nil {
		return config.Context{}, err
	}
	if rc.Registry == "" {
		return config.Context{}, errors.New("selected context has no registry")
	}
	return rc, nil
}

// browseTimeout bounds one load step. A step may wait on the limiter several
// times, so it gets a few request timeouts.
func (o *rootOptions) browseTimeout() time.Duration {
	if o.cfg.RequestTimeout <= 0 {
		return 0
	}
	return 4 * o.cfg.RequestTimeout
}
