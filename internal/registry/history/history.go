// Package history turns an image config's build history into per-step
// entries with the size of the layer each step produced.
package history

import (
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type Entry struct {
	CreatedAt  time.Time `json:"created_at,omitempty"`
	CreatedBy  string    `json:"created_by"`
	Comment    string    `json:"comment,omitempty"`
	SizeBytes  int64     `json:"size"`
	EmptyLayer bool      `json:"empty_layer,omitempty"`
}

// Build pairs every non-empty history step with the next layer, newest step
// first. Steps without a matching layer report a size of -1.
func Build(layers []ocispec.Descriptor, cfg ocispec.Image) []Entry {
	if len(cfg.History) == 0 {
		return nil
	}

	layerIndex := 0
	entries := make([]Entry, 0, len(cfg.History))
	for _, step := range cfg.History {
		e := Entry{
			CreatedBy:  strings.TrimSpace(step.CreatedBy),
			Comment:    strings.TrimSpace(step.Comment),
			SizeBytes:  -1,
			EmptyLayer: step.EmptyLayer,
		}
		if step.Created != nil {
			e.CreatedAt = *step.Created
		}
		if !step.EmptyLayer && layerIndex < len(layers) {
			e.SizeBytes = layers[layerIndex].Size
			layerIndex++
		}
		entries = append(entries, e)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

// PreferredManifest picks the child of an index to describe the image:
// linux first, then amd64 over arm64 over variant arm builds.
func PreferredManifest(manifests []ocispec.Descriptor) (digest.Digest, bool) {
	bestIdx := -1
	bestScore := -1
	for i, descriptor := range manifests {
		if descriptor.Digest == "" {
			continue
		}
		score := 0
		var os, arch, variant string
		if descriptor.Platform != nil {
			os = strings.ToLower(strings.TrimSpace(descriptor.Platform.OS))
			arch = strings.ToLower(strings.TrimSpace(descriptor.Platform.Architecture))
			variant = strings.ToLower(strings.TrimSpace(descriptor.Platform.Variant))
		}

		if os == "linux" {
			score += 20
		}
		switch {
		case arch == "amd64" || arch == "x86_64":
			score += 10
		case arch == "arm64" || arch == "aarch64":
			score += 8
		case arch == "arm" && variant != "":
			score += 4
		}
		if descriptor.MediaType == "application/vnd.docker.distribution.manifest.v2+json" ||
			descriptor.MediaType == ocispec.MediaTypeImageManifest {
			score += 2
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return "", false
	}
	return manifests[bestIdx].Digest, true
}
