package tui

import (
	"context"
	"time"

	"github.com/scottbass3/regscan/internal/pager"
	"github.com/scottbass3/regscan/internal/registry"
)

type Focus int

const (
	FocusImages Focus = iota
	FocusTags
	FocusManifest
)

const (
	defaultTableHeight      = 10
	minTableHeight          = 3
	defaultBatchSize        = 50
	defaultLoadTimeout      = 30 * time.Second
	maxLogLines             = 25
	maxVisibleLogs          = 5
	defaultRenderWidth      = 80
	mainSectionHChromeChars = 4
)

// Browser is the registry surface the TUI reads through. *registry.Client
// implements it.
type Browser interface {
	Host() string
	CatalogPager() *pager.Pager[string]
	ResumeCatalog(cursor string) *pager.Pager[string]
	ImageTagPager(image string) *pager.Pager[string]
	ResumeImageTags(image, cursor string) *pager.Pager[string]
	GetImageManifest(ctx context.Context, image, reference string) (registry.Manifest, error)
}

type Options struct {
	Context string
	// Debug shows the request panel fed by LogCh.
	Debug bool
	LogCh <-chan string
	// BatchSize is how many list entries one load pulls from the pager.
	BatchSize int
	Timeout   time.Duration
}

type pageMsg struct {
	focus Focus
	image string
	pager *pager.Pager[string]
	items []string
	done  bool
	err   error
}

type manifestMsg struct {
	image    string
	tag      string
	manifest registry.Manifest
	err      error
}

type logMsg string

type helpEntry struct {
	Keys   string
	Action string
}
