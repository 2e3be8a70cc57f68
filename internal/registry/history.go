package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/scottbass3/regscan/internal/registry/history"
)

// ImageHistory lists the build steps of image at reference, newest first.
// An index resolves to its preferred platform manifest. Schema 1 manifests
// carry no config blob and are rejected.
func (c *Client) ImageHistory(ctx context.Context, image, reference string) ([]history.Entry, error) {
	manifest, err := c.GetImageManifest(ctx, image, reference)
	if err != nil {
		return nil, err
	}
	if manifest.IsIndex() {
		child, ok := history.PreferredManifest(manifest.Manifests)
		if !ok {
			return nil, fmt.Errorf("index %s:%s lists no manifests", image, reference)
		}
		manifest, err = c.GetImageManifest(ctx, image, child.String())
		if err != nil {
			return nil, err
		}
	}
	if manifest.Config == nil || manifest.Config.Digest == "" {
		return nil, fmt.Errorf("config digest missing for %s:%s", image, reference)
	}

	cfg, err := c.imageConfig(ctx, image, manifest.Config.Digest)
	if err != nil {
		return nil, err
	}
	return history.Build(manifest.Layers, cfg), nil
}

// imageConfig downloads and decodes a config blob. Redirects to blob storage
// are followed by the transport.
func (c *Client) imageConfig(ctx context.Context, image string, configDigest digest.Digest) (ocispec.Image, error) {
	image = strings.Trim(strings.TrimSpace(image), "/")
	endpoint := resolveURL(c.baseURL, "/v2/"+image+"/blobs/"+configDigest.String(), nil)

	resp, err := c.do(ContextWithScope(ctx, repositoryScope(image)), Request{Method: http.MethodGet, URL: endpoint})
	if err != nil {
		return ocispec.Image{}, err
	}
	if err := c.classify(http.MethodGet, endpoint, resp); err != nil {
		return ocispec.Image{}, err
	}
	var cfg ocispec.Image
	if err := json.Unmarshal(resp.Body, &cfg); err != nil {
		return ocispec.Image{}, &MalformedResponseError{URL: endpoint, Reason: "decode image config", Err: err}
	}
	return cfg, nil
}
