package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/scottbass3/regscan/internal/pager"
	"github.com/scottbass3/regscan/internal/registry"
)

type listOptions struct {
	limit  int
	resume string
}

func (l *listOptions) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&l.limit, "limit", 0, "stop after this many entries (0 lists everything)")
	cmd.Flags().StringVar(&l.resume, "resume", "", "continue from the cursor printed by a failed run")
}

func newImagesCmd(root *rootOptions) *cobra.Command {
	opts := &listOptions{}
	cmd := &cobra.Command{
		Use:   "images",
		Short: "List the repositories in the registry catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withClient(func(client *registry.Client) error {
				p := client.CatalogPager()
				if opts.resume != "" {
					p = client.ResumeCatalog(opts.resume)
				}
				images, err := collect(cmd.Context(), p, opts.limit)
				if err != nil {
					return err
				}

				if root.output == "json" {
					return writeJSON(cmd.OutOrStdout(), images)
				}
				t := newTable(cmd.OutOrStdout(), table.Row{"Image"})
				for _, image := range images {
					t.AppendRow(table.Row{image})
				}
				t.AppendFooter(table.Row{fmt.Sprintf("%d images", len(images))})
				t.Render()
				return nil
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

type tagRow struct {
	Tag       string `json:"tag"`
	Reference string `json:"reference"`
}

func newTagsCmd(root *rootOptions) *cobra.Command {
	opts := &listOptions{}
	cmd := &cobra.Command{
		Use:   "tags <image>",
		Short: "List the tags of an image with their pull references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image := args[0]
			return root.withClient(func(client *registry.Client) error {
				p := client.ImageTagPager(image)
				if opts.resume != "" {
					p = client.ResumeImageTags(image, opts.resume)
				}
				tags, err := collect(cmd.Context(), p, opts.limit)
				if err != nil {
					return err
				}

				rows := make([]tagRow, 0, len(tags))
				for _, tag := range tags {
					rows = append(rows, tagRow{Tag: tag, Reference: registry.PullReference(client.Host(), image, tag)})
				}
				if root.output == "json" {
					return writeJSON(cmd.OutOrStdout(), rows)
				}
				t := newTable(cmd.OutOrStdout(), table.Row{"Tag", "Pull reference"})
				for _, row := range rows {
					t.AppendRow(table.Row{row.Tag, row.Reference})
				}
				t.AppendFooter(table.Row{fmt.Sprintf("%d tags", len(rows)), ""})
				t.Render()
				return nil
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

// collect drains p, stopping early at limit. A failure reports the cursor
// the listing can be resumed from.
func collect(ctx context.Context, p *pager.Pager[string], limit int) ([]string, error) {
	var items []string
	for item, err := range p.All(ctx) {
		if err != nil {
			if cursor := p.Cursor(); cursor != "" {
				return items, fmt.Errorf("%w (resume with --resume %q)", err, cursor)
			}
			return items, err
		}
		items = append(items, item)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}
