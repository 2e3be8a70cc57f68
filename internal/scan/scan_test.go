package scan

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/scottbass3/regscan/internal/pager"
	"github.com/scottbass3/regscan/internal/registry"
)

var (
	layerBase = digest.FromString("base")
	layerApp1 = digest.FromString("app-1")
	layerApp2 = digest.FromString("app-2")
)

type fakeRegistry struct {
	images    []string
	tags      map[string][]string
	manifests map[string]registry.Manifest
	sizes     map[digest.Digest]int64
	failBlob  digest.Digest

	mu        sync.Mutex
	blobCalls map[string]int
}

func newFakeRegistry() *fakeRegistry {
	layers := func(sizes bool, ds ...digest.Digest) registry.Manifest {
		m := registry.Manifest{SchemaVersion: 2, MediaType: ocispec.MediaTypeImageManifest}
		for _, d := range ds {
			desc := ocispec.Descriptor{MediaType: ocispec.MediaTypeImageLayerGzip, Digest: d}
			if sizes {
				desc.Size = map[digest.Digest]int64{layerBase: 100, layerApp1: 20, layerApp2: 5}[d]
			}
			m.Layers = append(m.Layers, desc)
		}
		return m
	}
	return &fakeRegistry{
		images: []string{"team/app", "team/base"},
		tags: map[string][]string{
			"team/app":  {"v1", "v2"},
			"team/base": {"latest"},
		},
		manifests: map[string]registry.Manifest{
			"team/app:v1":      layers(true, layerBase, layerApp1),
			"team/app:v2":      layers(true, layerBase, layerApp2),
			"team/base:latest": layers(false, layerBase),
		},
		sizes:     map[digest.Digest]int64{layerBase: 100, layerApp1: 20, layerApp2: 5},
		blobCalls: make(map[string]int),
	}
}

func staticPager(items []string) *pager.Pager[string] {
	return pager.New(func(context.Context, pager.Request) (pager.Page[string], error) {
		return pager.Page[string]{Items: items}, nil
	})
}

func (f *fakeRegistry) CatalogPager() *pager.Pager[string] {
	return staticPager(f.images)
}

func (f *fakeRegistry) ImageTagPager(image string) *pager.Pager[string] {
	return staticPager(f.tags[image])
}

func (f *fakeRegistry) GetImageManifest(_ context.Context, image, reference string) (registry.Manifest, error) {
	m, ok := f.manifests[image+":"+reference]
	if !ok {
		return registry.Manifest{}, &registry.StatusError{StatusCode: 404}
	}
	return m, nil
}

func (f *fakeRegistry) BlobInfo(_ context.Context, image, d string) (registry.BlobInfo, error) {
	f.mu.Lock()
	f.blobCalls[d]++
	f.mu.Unlock()
	if digest.Digest(d) == f.failBlob {
		return registry.BlobInfo{}, errors.New("blob lookup failed")
	}
	return registry.BlobInfo{Digest: digest.Digest(d), Size: f.sizes[digest.Digest(d)]}, nil
}

func (f *fakeRegistry) totalBlobCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.blobCalls {
		total += n
	}
	return total
}

func TestScanTotals(t *testing.T) {
	reg := newFakeRegistry()
	report, err := New(reg, Options{Logger: zaptest.NewLogger(t)}).Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.Blobs)
	assert.EqualValues(t, 125, report.TotalSize)
	assert.Equal(t, []ImageReport{
		{Name: "team/app", Tags: 2, Blobs: 3, Size: 125, UniqueSize: 25},
		{Name: "team/base", Tags: 1, Blobs: 1, Size: 100, UniqueSize: 0},
	}, report.Images)

	assert.Equal(t, 3, reg.totalBlobCalls(), "each blob is looked up once")
}

func TestScanMaxImages(t *testing.T) {
	reg := newFakeRegistry()
	report, err := New(reg, Options{MaxImages: 1}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Images, 1)
	assert.Equal(t, "team/app", report.Images[0].Name)
	assert.EqualValues(t, 125, report.TotalSize)
}

func TestScanTrustManifestSizes(t *testing.T) {
	reg := newFakeRegistry()
	report, err := New(reg, Options{TrustManifestSizes: true, ImageConcurrency: 1}).Run(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 125, report.TotalSize)
	assert.Equal(t, 0, reg.totalBlobCalls())
}

func TestScanResolvesIndexes(t *testing.T) {
	reg := newFakeRegistry()
	child := digest.FromString("child-manifest")
	reg.images = []string{"team/multi"}
	reg.tags["team/multi"] = []string{"latest"}
	reg.manifests["team/multi:latest"] = registry.Manifest{
		SchemaVersion: 2,
		MediaType:     ocispec.MediaTypeImageIndex,
		Manifests:     []ocispec.Descriptor{{MediaType: ocispec.MediaTypeImageManifest, Digest: child}},
	}
	reg.manifests["team/multi:"+child.String()] = registry.Manifest{
		SchemaVersion: 2,
		Layers:        []ocispec.Descriptor{{Digest: layerBase}, {Digest: layerApp1}},
	}

	report, err := New(reg, Options{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Images, 1)
	assert.Equal(t, 2, report.Images[0].Blobs)
	assert.EqualValues(t, 120, report.Images[0].UniqueSize)
}

func TestScanStopsOnFailure(t *testing.T) {
	reg := newFakeRegistry()
	reg.failBlob = layerApp2

	report, err := New(reg, Options{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blob lookup failed")
	require.NotNil(t, report)
}

func TestScanContinueOnError(t *testing.T) {
	reg := newFakeRegistry()
	delete(reg.manifests, "team/base:latest")

	report, err := New(reg, Options{ContinueOnError: true}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Images, 2)
	assert.Empty(t, report.Images[0].Err)
	assert.Contains(t, report.Images[1].Err, "manifest latest")
	assert.Equal(t, 3, report.Blobs)
}

func TestScanCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(newFakeRegistry(), Options{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
