package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/scottbass3/regscan/internal/registry"
)

func newManifestCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest <image> <tag|digest>",
		Short: "Show the manifest of an image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withClient(func(client *registry.Client) error {
				manifest, err := client.GetImageManifest(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if root.output == "json" {
					_, err := out.Write(append(manifest.Raw, '\n'))
					return err
				}
				renderManifest(out, client.Host(), args[0], args[1], manifest)
				return nil
			})
		},
	}
}

func renderManifest(out io.Writer, host, image, reference string, manifest registry.Manifest) {
	fmt.Fprintf(out, "Reference:  %s\n", registry.PullReference(host, image, reference))
	fmt.Fprintf(out, "Media type: %s\n", orDash(manifest.MediaType))
	fmt.Fprintf(out, "Digest:     %s\n", orDash(manifest.Digest.String()))

	t := newTable(out, table.Row{"Kind", "Digest", "Media type", "Size"})
	t.SetColumnConfigs(rightAligned(4))
	if manifest.IsIndex() {
		for _, child := range manifest.Manifests {
			platform := "-"
			if child.Platform != nil {
				platform = child.Platform.OS + "/" + child.Platform.Architecture
				if child.Platform.Variant != "" {
					platform += "/" + child.Platform.Variant
				}
			}
			t.AppendRow(table.Row{"manifest " + platform, child.Digest, child.MediaType, formatSize(child.Size)})
		}
		t.Render()
		return
	}
	if manifest.Config != nil {
		t.AppendRow(table.Row{"config", manifest.Config.Digest, manifest.Config.MediaType, formatSize(manifest.Config.Size)})
	}
	if len(manifest.Layers) > 0 {
		for _, layer := range manifest.Layers {
			t.AppendRow(table.Row{"layer", layer.Digest, layer.MediaType, formatSize(layer.Size)})
		}
	} else {
		for _, blob := range manifest.BlobDigests() {
			t.AppendRow(table.Row{"layer", blob, "-", "-"})
		}
	}
	t.AppendFooter(table.Row{"", "", "declared", formatSize(manifest.Size())})
	t.Render()
}

func newBlobCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "blob <image> <digest>",
		Short: "Show the size and modification time of a blob",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withClient(func(client *registry.Client) error {
				info, err := client.BlobInfo(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if root.output == "json" {
					return writeJSON(cmd.OutOrStdout(), info)
				}
				renderBlob(cmd.OutOrStdout(), info)
				return nil
			})
		},
	}
}

func renderBlob(out io.Writer, info registry.BlobInfo) {
	t := newTable(out, table.Row{"Digest", "Size", "Modified", "Storage"})
	storage := "registry"
	if info.S3 != nil {
		storage = fmt.Sprintf("s3://%s/%s (%s)", info.S3.Bucket, info.S3.Key, info.S3.Region)
	}
	t.AppendRow(table.Row{info.Digest, formatSize(info.Size), formatTime(info.Modified), storage})
	t.Render()
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <image> <tag|digest>",
		Short: "Show the build steps of an image with their layer sizes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withClient(func(client *registry.Client) error {
				entries, err := client.ImageHistory(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if root.output == "json" {
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				t := newTable(cmd.OutOrStdout(), table.Row{"Created", "Size", "Created by"})
				t.SetColumnConfigs(append(rightAligned(2), table.ColumnConfig{Number: 3, WidthMax: 80}))
				for _, entry := range entries {
					size := formatSize(entry.SizeBytes)
					if entry.EmptyLayer {
						size = "0 B"
					}
					t.AppendRow(table.Row{formatTime(entry.CreatedAt), size, orDash(entry.CreatedBy)})
				}
				t.Render()
				return nil
			})
		},
	}
}
