package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/scottbass3/regscan/internal/registry"
	"github.com/scottbass3/regscan/internal/scan"
)

func newScanCmd(root *rootOptions) *cobra.Command {
	var (
		maxImages          int
		imageConcurrency   int
		blobConcurrency    int
		trustManifestSizes bool
		continueOnError    bool
		top                int
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Walk every image and report how much storage each one holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := scan.Options{
				MaxImages:          root.cfg.Scan.MaxImages,
				ImageConcurrency:   root.cfg.Scan.ImageConcurrency,
				BlobConcurrency:    root.cfg.Scan.BlobConcurrency,
				TrustManifestSizes: root.cfg.Scan.TrustManifestSizes,
				ContinueOnError:    root.cfg.Scan.ContinueOnError,
				Logger:             root.logger,
			}
			flags := cmd.Flags()
			if flags.Changed("max-images") {
				opts.MaxImages = maxImages
			}
			if flags.Changed("image-concurrency") {
				opts.ImageConcurrency = imageConcurrency
			}
			if flags.Changed("blob-concurrency") {
				opts.BlobConcurrency = blobConcurrency
			}
			if flags.Changed("trust-manifest-sizes") {
				opts.TrustManifestSizes = trustManifestSizes
			}
			if flags.Changed("continue-on-error") {
				opts.ContinueOnError = continueOnError
			}

			return root.withClient(func(client *registry.Client) error {
				report, err := scan.New(client, opts).Run(cmd.Context())
				if err != nil {
					return err
				}
				if root.output == "json" {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				renderReport(cmd.OutOrStdout(), report, top)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&maxImages, "max-images", 0, "stop after this many catalog entries (0 scans everything)")
	flags.IntVar(&imageConcurrency, "image-concurrency", scan.DefaultImageConcurrency, "images walked at once")
	flags.IntVar(&blobConcurrency, "blob-concurrency", scan.DefaultBlobConcurrency, "blob lookups in flight")
	flags.BoolVar(&trustManifestSizes, "trust-manifest-sizes", false, "use layer sizes declared by manifests instead of looking blobs up")
	flags.BoolVar(&continueOnError, "continue-on-error", false, "record failing images and keep scanning")
	flags.IntVar(&top, "top", 0, "only show the images holding the most unique storage")
	return cmd
}

// renderReport lists images by the storage only they hold, largest first.
func renderReport(out io.Writer, report *scan.Report, top int) {
	images := append([]scan.ImageReport(nil), report.Images...)
	sort.SliceStable(images, func(i, j int) bool {
		if images[i].UniqueSize != images[j].UniqueSize {
			return images[i].UniqueSize > images[j].UniqueSize
		}
		return images[i].Name < images[j].Name
	})
	if top > 0 && len(images) > top {
		images = images[:top]
	}

	t := newTable(out, table.Row{"Image", "Tags", "Blobs", "Size", "Unique", "Error"})
	t.SetColumnConfigs(rightAligned(2, 3, 4, 5))
	for _, image := range images {
		t.AppendRow(table.Row{
			image.Name,
			image.Tags,
			image.Blobs,
			formatSize(image.Size),
			formatSize(image.UniqueSize),
			orDash(image.Err),
		})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d images", len(report.Images)),
		"",
		report.Blobs,
		"",
		formatSize(report.TotalSize),
		report.Duration.Round(time.Millisecond).String(),
	})
	t.Render()
}
