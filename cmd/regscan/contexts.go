package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/scottbass3/regscan/internal/config"
	"github.com/scottbass3/regscan/internal/contextstore"
)

func newContextCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Manage the registry contexts stored in the config file",
	}
	cmd.AddCommand(
		newContextListCmd(root),
		newContextAddCmd(root),
		newContextRemoveCmd(root),
		newContextUseCmd(root),
	)
	return cmd
}

func (o *rootOptions) contextService() contextstore.Service {
	return contextstore.NewService(o.configPath)
}

func newContextListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := root.contextService().Store().Load()
			if err != nil {
				return err
			}
			if root.output == "json" {
				// credentials stay in the file
				out := make([]config.Context, 0, len(state.Contexts))
				for _, ctx := range state.Contexts {
					ctx.Password = ""
					out = append(out, ctx)
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}
			t := newTable(cmd.OutOrStdout(), table.Row{"", "Name", "Registry", "Auth", "Username"})
			for _, ctx := range state.Contexts {
				marker := ""
				if ctx.Name == state.Current {
					marker = "*"
				}
				t.AppendRow(table.Row{marker, ctx.Name, ctx.Registry, ctx.Auth().Kind, orDash(ctx.Username)})
			}
			t.Render()
			return nil
		},
	}
}

func newContextAddCmd(root *rootOptions) *cobra.Command {
	var candidate config.Context
	var use bool
	cmd := &cobra.Command{
		Use:   "add <name> <registry>",
		Short: "Store a new context",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := root.contextService()
			state, err := svc.Store().Load()
			if err != nil {
				return err
			}
			candidate.Name = args[0]
			candidate.Registry = args[1]
			contexts, index, err := svc.Add(state.Contexts, candidate)
			if err != nil {
				return err
			}
			state.Contexts = contexts
			if use || state.Current == "" {
				state.Current = contexts[index].Name
			}
			if err := svc.Store().Save(state); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added context %s (%s)\n", contexts[index].Name, svc.Store().Path())
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&candidate.Kind, "kind", "none", "auth kind: none, basic or bearer")
	flags.StringVar(&candidate.Username, "username", "", "registry username")
	flags.StringVar(&candidate.Password, "password", "", "registry password or token")
	flags.StringVar(&candidate.Service, "service", "", "bearer token service (defaults to the registry host)")
	flags.StringVar(&candidate.TokenURL, "token-url", "", "bearer token endpoint (defaults to the challenge realm)")
	flags.StringVar(&candidate.Scope, "scope", "", "bearer token scope for every request")
	flags.BoolVar(&use, "use", false, "make it the default context")
	return cmd
}

func newContextRemoveCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a stored context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := root.contextService()
			state, err := svc.Store().Load()
			if err != nil {
				return err
			}
			contexts, removed, _, err := svc.RemoveByName(state.Contexts, args[0])
			if err != nil {
				return err
			}
			state.Contexts = contexts
			if state.Current == removed.Name {
				state.Current = ""
			}
			if err := svc.Store().Save(state); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed context %s\n", removed.Name)
			return nil
		},
	}
}

func newContextUseCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Set the default context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := root.contextService()
			state, err := svc.Store().Load()
			if err != nil {
				return err
			}
			index, ok := contextstore.ResolveByName(state.Contexts, args[0])
			if !ok {
				return fmt.Errorf("unknown context: %s", args[0])
			}
			state.Current = state.Contexts[index].Name
			if err := svc.Store().Save(state); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Using context %s\n", state.Current)
			return nil
		},
	}
}
