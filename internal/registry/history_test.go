package registry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageHistoryResolvesIndex(t *testing.T) {
	configBody := `{
		"architecture": "amd64",
		"os": "linux",
		"rootfs": {"type": "layers", "diff_ids": []},
		"history": [
			{"created": "2024-01-02T03:04:05.123456789Z", "created_by": "ADD rootfs.tar /"},
			{"created": "2024-01-02T03:05:00Z", "created_by": "ENV PATH=/bin", "empty_layer": true},
			{"created": "2024-01-02T03:06:00Z", "created_by": "RUN make install"}
		]
	}`
	configDigest := digest.FromString(configBody)
	child := digest.FromString("child")

	index := fmt.Sprintf(`{
		"schemaVersion": 2,
		"mediaType": %q,
		"manifests": [
			{"mediaType": %q, "digest": %q, "size": 10, "platform": {"os": "windows", "architecture": "amd64"}},
			{"mediaType": %q, "digest": %q, "size": 10, "platform": {"os": "linux", "architecture": "amd64"}}
		]
	}`, ocispec.MediaTypeImageIndex,
		ocispec.MediaTypeImageManifest, digest.FromString("windows"),
		ocispec.MediaTypeImageManifest, child)
	manifest := fmt.Sprintf(`{
		"schemaVersion": 2,
		"mediaType": %q,
		"config": {"mediaType": %q, "digest": %q, "size": %d},
		"layers": [
			{"mediaType": %q, "digest": %q, "size": 3000},
			{"mediaType": %q, "digest": %q, "size": 40}
		]
	}`, ocispec.MediaTypeImageManifest, ocispec.MediaTypeImageConfig, configDigest, len(configBody),
		ocispec.MediaTypeImageLayerGzip, digest.FromString("base"),
		ocispec.MediaTypeImageLayerGzip, digest.FromString("app"))

	var mu sync.Mutex
	var paths []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/v2/team/app/manifests/latest":
			writeJSON(w, http.StatusOK, index)
		case "/v2/team/app/manifests/" + child.String():
			writeJSON(w, http.StatusOK, manifest)
		case "/v2/team/app/blobs/" + configDigest.String():
			http.Redirect(w, r, "/storage/config", http.StatusTemporaryRedirect)
		case "/storage/config":
			writeJSON(w, http.StatusOK, configBody)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	entries, err := client.ImageHistory(context.Background(), "team/app", "latest")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "RUN make install", entries[0].CreatedBy)
	assert.EqualValues(t, 40, entries[0].SizeBytes)
	assert.True(t, entries[1].EmptyLayer)
	assert.EqualValues(t, -1, entries[1].SizeBytes)
	assert.Equal(t, "ADD rootfs.tar /", entries[2].CreatedBy)
	assert.EqualValues(t, 3000, entries[2].SizeBytes)
	assert.Equal(t, 123456789, entries[2].CreatedAt.Nanosecond())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"/v2/team/app/manifests/latest",
		"/v2/team/app/manifests/" + child.String(),
		"/v2/team/app/blobs/" + configDigest.String(),
		"/storage/config",
	}, paths)
}

func TestImageHistoryMalformedConfig(t *testing.T) {
	configDigest := digest.FromString("config")
	manifest := fmt.Sprintf(`{"schemaVersion":2,"mediaType":%q,"config":{"mediaType":%q,"digest":%q,"size":2},"layers":[]}`,
		ocispec.MediaTypeImageManifest, ocispec.MediaTypeImageConfig, configDigest)

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/team/app/manifests/v1" {
			writeJSON(w, http.StatusOK, manifest)
			return
		}
		writeJSON(w, http.StatusOK, `{"history": "not a list"}`)
	}))

	_, err := client.ImageHistory(context.Background(), "team/app", "v1")
	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
}

func TestImageHistoryMissingConfig(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", MediaTypeDockerSchema1)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"schemaVersion":1,"fsLayers":[{"blobSum":%q}]}`, digest.FromString("layer"))
	}))

	_, err := client.ImageHistory(context.Background(), "team/app", "old")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config digest missing")
}
