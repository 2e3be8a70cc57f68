// Package scan walks a registry (catalog, tags, manifests, blobs) and reports
// how much storage each image uses.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scottbass3/regscan/internal/pager"
	"github.com/scottbass3/regscan/internal/registry"
)

const (
	DefaultImageConcurrency = 8
	DefaultBlobConcurrency  = 16
)

// Registry is the part of registry.Client the walker needs.
type Registry interface {
	CatalogPager() *pager.Pager[string]
	ImageTagPager(image string) *pager.Pager[string]
	GetImageManifest(ctx context.Context, image, reference string) (registry.Manifest, error)
	BlobInfo(ctx context.Context, image, digest string) (registry.BlobInfo, error)
}

type Options struct {
	// MaxImages stops the walk after that many catalog entries. Zero means all.
	MaxImages        int
	ImageConcurrency int
	BlobConcurrency  int
	// TrustManifestSizes takes layer sizes from manifests that declare them
	// instead of looking each blob up.
	TrustManifestSizes bool
	// ContinueOnError records a failing image in its report entry and keeps
	// going. Otherwise the first failure stops the walk.
	ContinueOnError bool
	Logger          *zap.Logger
}

type ImageReport struct {
	Name  string `json:"name"`
	Tags  int    `json:"tags"`
	Blobs int    `json:"blobs"`
	// Size counts every blob the image references once.
	Size int64 `json:"size"`
	// UniqueSize counts the blobs no other image references.
	UniqueSize int64  `json:"unique_size"`
	Err        string `json:"error,omitempty"`
}

type Report struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Images    []ImageReport `json:"images"`
	Blobs     int           `json:"blobs"`
	TotalSize int64         `json:"total_size"`
}

type Scanner struct {
	reg  Registry
	opts Options
}

func New(reg Registry, opts Options) *Scanner {
	if opts.ImageConcurrency <= 0 {
		opts.ImageConcurrency = DefaultImageConcurrency
	}
	if opts.BlobConcurrency <= 0 {
		opts.BlobConcurrency = DefaultBlobConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scanner{reg: reg, opts: opts}
}

type blobEntry struct {
	size   int64
	images map[string]struct{}
}

type imageState struct {
	name  string
	tags  int
	blobs map[string]struct{}
	err   error
}

type run struct {
	*Scanner
	logger *zap.Logger
	blobs  *errgroup.Group
	stop   context.CancelFunc

	mu     sync.Mutex
	index  map[string]*blobEntry
	images []*imageState
}

// Run walks the registry. On failure the report covers what was gathered
// before the walk stopped.
func (s *Scanner) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	runID := uuid.New().String()
	r := &run{
		Scanner: s,
		logger:  s.opts.Logger.With(zap.String("run_id", runID)),
		index:   make(map[string]*blobEntry),
	}
	r.logger.Info("scan started", zap.Int("max_images", s.opts.MaxImages))

	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.stop = cancel

	imageGroup, imageCtx := errgroup.WithContext(walkCtx)
	imageGroup.SetLimit(s.opts.ImageConcurrency)
	blobGroup, blobCtx := errgroup.WithContext(walkCtx)
	blobGroup.SetLimit(s.opts.BlobConcurrency)
	r.blobs = blobGroup

	walkErr := r.walkCatalog(ctx, imageCtx, blobCtx, imageGroup)
	imagesErr := imageGroup.Wait()
	blobsErr := blobGroup.Wait()

	report := r.report(runID, started)
	err := errors.Join(walkErr, imagesErr, blobsErr)
	if err != nil {
		r.logger.Error("scan failed", zap.Error(err), zap.Int("images", len(report.Images)))
		return report, err
	}
	r.logger.Info("scan finished",
		zap.Int("images", len(report.Images)),
		zap.Int("blobs", report.Blobs),
		zap.Int64("total_size", report.TotalSize),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (r *run) walkCatalog(parent, ctx, blobCtx context.Context, g *errgroup.Group) error {
	queued := 0
	for name, err := range r.reg.CatalogPager().All(ctx) {
		if err != nil {
			if ctx.Err() != nil && parent.Err() == nil {
				// a failed image or blob cancelled the walk and reports its own error
				return nil
			}
			return fmt.Errorf("list catalog: %w", err)
		}

		state := &imageState{name: name, blobs: make(map[string]struct{})}
		r.mu.Lock()
		r.images = append(r.images, state)
		r.mu.Unlock()

		g.Go(func() error {
			err := r.scanImage(ctx, blobCtx, state)
			if err == nil {
				return nil
			}
			state.err = err
			r.logger.Warn("image scan failed", zap.String("image", state.name), zap.Error(err))
			if r.opts.ContinueOnError {
				return nil
			}
			r.stop()
			return fmt.Errorf("image %s: %w", state.name, err)
		})

		queued++
		if r.opts.MaxImages > 0 && queued >= r.opts.MaxImages {
			break
		}
	}
	return nil
}

func (r *run) scanImage(ctx, blobCtx context.Context, state *imageState) error {
	for tag, err := range r.reg.ImageTagPager(state.name).All(ctx) {
		if err != nil {
			return fmt.Errorf("list tags: %w", err)
		}
		state.tags++

		manifest, err := r.reg.GetImageManifest(ctx, state.name, tag)
		if err != nil {
			return fmt.Errorf("manifest %s: %w", tag, err)
		}
		manifests := []registry.Manifest{manifest}
		if manifest.IsIndex() {
			for _, child := range manifest.Manifests {
				resolved, err := r.reg.GetImageManifest(ctx, state.name, child.Digest.String())
				if err != nil {
					return fmt.Errorf("manifest %s@%s: %w", tag, child.Digest, err)
				}
				manifests = append(manifests, resolved)
			}
		}

		for _, m := range manifests {
			declared := make(map[string]int64, len(m.Layers))
			for _, layer := range m.Layers {
				declared[layer.Digest.String()] = layer.Size
			}
			for _, d := range m.BlobDigests() {
				r.addBlob(blobCtx, state, d.String(), declared[d.String()])
			}
		}
	}

	r.logger.Info("image scanned",
		zap.String("image", state.name),
		zap.Int("tags", state.tags),
		zap.Int("blobs", len(state.blobs)))
	return nil
}

// addBlob records that state uses digest and schedules one size lookup per
// digest across the whole run.
func (r *run) addBlob(ctx context.Context, state *imageState, digest string, declared int64) {
	r.mu.Lock()
	state.blobs[digest] = struct{}{}
	entry, seen := r.index[digest]
	if !seen {
		entry = &blobEntry{images: make(map[string]struct{})}
		r.index[digest] = entry
	}
	entry.images[state.name] = struct{}{}
	if !seen && r.opts.TrustManifestSizes && declared > 0 {
		entry.size = declared
		seen = true
	}
	r.mu.Unlock()

	if seen {
		return
	}
	image := state.name
	r.blobs.Go(func() error {
		info, err := r.reg.BlobInfo(ctx, image, digest)
		if err != nil {
			if r.opts.ContinueOnError {
				r.logger.Warn("blob lookup failed", zap.String("image", image), zap.String("digest", digest), zap.Error(err))
				return nil
			}
			r.stop()
			return fmt.Errorf("blob %s in %s: %w", digest, image, err)
		}
		r.mu.Lock()
		entry.size = info.Size
		r.mu.Unlock()
		return nil
	})
}

func (r *run) report(runID string, started time.Time) *Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := &Report{
		RunID:     runID,
		StartedAt: started,
		Duration:  time.Since(started),
		Images:    make([]ImageReport, 0, len(r.images)),
		Blobs:     len(r.index),
	}
	for _, entry := range r.index {
		report.TotalSize += entry.size
	}
	for _, state := range r.images {
		item := ImageReport{Name: state.name, Tags: state.tags, Blobs: len(state.blobs)}
		for digest := range state.blobs {
			entry := r.index[digest]
			item.Size += entry.size
			if len(entry.images) == 1 {
				item.UniqueSize += entry.size
			}
		}
		if state.err != nil {
			item.Err = state.err.Error()
		}
		report.Images = append(report.Images, item)
	}
	sort.Slice(report.Images, func(i, j int) bool {
		return report.Images[i].Name < report.Images[j].Name
	})
	return report
}
