package registry

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	MediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	MediaTypeDockerSchema1      = "application/vnd.docker.distribution.manifest.v1+prettyjws"
)

var manifestAccept = strings.Join([]string{
	MediaTypeDockerManifest,
	ocispec.MediaTypeImageManifest,
	MediaTypeDockerManifestList,
	ocispec.MediaTypeImageIndex,
	MediaTypeDockerSchema1,
}, ", ")

// Manifest is an image manifest, manifest list or index as served by the
// registry. Schema 1 manifests only populate FSLayers.
type Manifest struct {
	SchemaVersion int
	MediaType     string
	Digest        digest.Digest
	Config        *ocispec.Descriptor
	Layers        []ocispec.Descriptor
	Manifests     []ocispec.Descriptor
	FSLayers      []digest.Digest
	Raw           []byte
}

type manifestPayload struct {
	SchemaVersion int                  `json:"schemaVersion"`
	MediaType     string               `json:"mediaType"`
	Config        *ocispec.Descriptor  `json:"config"`
	Layers        []ocispec.Descriptor `json:"layers"`
	Manifests     []ocispec.Descriptor `json:"manifests"`
	FSLayers      []struct {
		BlobSum digest.Digest `json:"blobSum"`
	} `json:"fsLayers"`
}

func (m Manifest) IsIndex() bool {
	return m.MediaType == ocispec.MediaTypeImageIndex || m.MediaType == MediaTypeDockerManifestList ||
		(len(m.Manifests) > 0 && len(m.Layers) == 0)
}

// BlobDigests lists the layer blobs base layer first.
func (m Manifest) BlobDigests() []digest.Digest {
	if len(m.Layers) > 0 {
		out := make([]digest.Digest, 0, len(m.Layers))
		for _, layer := range m.Layers {
			out = append(out, layer.Digest)
		}
		return out
	}
	// schema 1 lists the newest layer first
	out := make([]digest.Digest, 0, len(m.FSLayers))
	for i := len(m.FSLayers) - 1; i >= 0; i-- {
		out = append(out, m.FSLayers[i])
	}
	return out
}

// Size sums the sizes the manifest declares for its config and layers.
// Schema 1 manifests declare none.
func (m Manifest) Size() int64 {
	var total int64
	if m.Config != nil {
		total += m.Config.Size
	}
	for _, layer := range m.Layers {
		total += layer.Size
	}
	return total
}

// GetImageManifest fetches the manifest of image at reference, which is a
// tag or a digest.
func (c *Client) GetImageManifest(ctx context.Context, image, reference string) (Manifest, error) {
	image = strings.Trim(strings.TrimSpace(image), "/")
	reference = strings.TrimSpace(reference)
	endpoint := resolveURL(c.baseURL, "/v2/"+image+"/manifests/"+reference, nil)

	header := http.Header{}
	header.Set("Accept", manifestAccept)
	resp, err := c.do(ContextWithScope(ctx, repositoryScope(image)), Request{Method: http.MethodGet, URL: endpoint, Header: header})
	if err != nil {
		return Manifest{}, err
	}
	if err := c.classify(http.MethodGet, endpoint, resp); err != nil {
		return Manifest{}, err
	}
	return decodeManifest(endpoint, resp)
}

func decodeManifest(endpoint string, resp Response) (Manifest, error) {
	var payload manifestPayload
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return Manifest{}, &MalformedResponseError{URL: endpoint, Reason: "decode manifest", Err: err}
	}

	manifest := Manifest{
		SchemaVersion: payload.SchemaVersion,
		MediaType:     payload.MediaType,
		Config:        payload.Config,
		Layers:        payload.Layers,
		Manifests:     payload.Manifests,
		Raw:           resp.Body,
	}
	if manifest.MediaType == "" {
		if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
			manifest.MediaType = mediaType
		}
	}
	for _, layer := range payload.FSLayers {
		manifest.FSLayers = append(manifest.FSLayers, layer.BlobSum)
	}

	if value := resp.Header.Get("Docker-Content-Digest"); value != "" {
		parsed, err := digest.Parse(value)
		if err != nil {
			return Manifest{}, &MalformedResponseError{URL: endpoint, Reason: "parse Docker-Content-Digest", Err: err}
		}
		manifest.Digest = parsed
	} else if manifest.SchemaVersion == 2 {
		manifest.Digest = digest.FromBytes(resp.Body)
	}
	return manifest, nil
}
