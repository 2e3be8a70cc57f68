package tui

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/scottbass3/regscan/internal/pager"
	"github.com/scottbass3/regscan/internal/registry"
)

type fakeBrowser struct {
	images    []string
	tags      map[string][]string
	manifests map[string]registry.Manifest
	pageSize  int
	// failAt makes the catalog fetch at this offset fail once.
	failAt        int
	failed        bool
	resumedCursor string
}

func (f *fakeBrowser) Host() string { return "registry.example.com" }

func (f *fakeBrowser) CatalogPager() *pager.Pager[string] {
	return f.ResumeCatalog("")
}

func (f *fakeBrowser) ResumeCatalog(cursor string) *pager.Pager[string] {
	f.resumedCursor = cursor
	return pager.Resume(f.sliceFetch(f.images, true), cursor, pager.WithPageSize(f.pageSize))
}

func (f *fakeBrowser) ImageTagPager(image string) *pager.Pager[string] {
	return f.ResumeImageTags(image, "")
}

func (f *fakeBrowser) ResumeImageTags(image, cursor string) *pager.Pager[string] {
	return pager.Resume(f.sliceFetch(f.tags[image], false), cursor, pager.WithPageSize(f.pageSize))
}

func (f *fakeBrowser) GetImageManifest(_ context.Context, image, reference string) (registry.Manifest, error) {
	manifest, ok := f.manifests[image+":"+reference]
	if !ok {
		return registry.Manifest{}, errors.New("manifest unknown")
	}
	return manifest, nil
}

func (f *fakeBrowser) sliceFetch(items []string, catalog bool) pager.FetchFunc[string] {
	return func(_ context.Context, req pager.Request) (pager.Page[string], error) {
		start := 0
		if req.Cursor != "" {
			start, _ = strconv.Atoi(req.Cursor)
		}
		if catalog && f.failAt > 0 && start == f.failAt && !f.failed {
			f.failed = true
			return pager.Page[string]{}, &registry.ThrottledError{URL: "/v2/_catalog", RetryAfter: 2 * time.Second}
		}
		size := req.Size
		if size <= 0 {
			size = len(items)
		}
		end := minInt(len(items), start+size)
		page := pager.Page[string]{Items: items[start:end]}
		if end < len(items) {
			page.Next = strconv.Itoa(end)
		}
		return page, nil
	}
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		images: []string{"team/api", "team/web", "tools/ci"},
		tags: map[string][]string{
			"team/api": {"v1.0.0", "v1.1.0", "latest"},
		},
		manifests: map[string]registry.Manifest{
			"team/api:v1.1.0": {
				SchemaVersion: 2,
				MediaType:     ocispec.MediaTypeImageManifest,
				Digest:        digest.FromString("manifest"),
				Config:        &ocispec.Descriptor{MediaType: ocispec.MediaTypeImageConfig, Digest: digest.FromString("config"), Size: 120},
				Layers: []ocispec.Descriptor{
					{MediaType: ocispec.MediaTypeImageLayerGzip, Digest: digest.FromString("layer"), Size: 2048},
				},
			},
		},
		pageSize: 2,
	}
}

// runPage executes a page load synchronously and feeds the result back.
func runPage(t *testing.T, m Model, p *pager.Pager[string], focus Focus, image string) Model {
	t.Helper()
	msg := loadPageCmd(p, focus, image, m.batchSize, time.Second)()
	updated, _ := m.Update(msg)
	return updated.(Model)
}

func keyRunes(value string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(value)}
}

func TestInitialCatalogBatch(t *testing.T) {
	m := NewModel(newFakeBrowser(), Options{BatchSize: 2})
	if !m.isLoading() {
		t.Fatalf("expected the first batch to count as loading")
	}

	m = runPage(t, m, m.imagePager, FocusImages, "")

	if got := strings.Join(m.images, ","); got != "team/api,team/web" {
		t.Fatalf("unexpected images %q", got)
	}
	if m.imagesDone {
		t.Fatalf("expected more images to be available")
	}
	if m.isLoading() {
		t.Fatalf("expected loading to stop")
	}
	if !strings.Contains(m.status, "n for more") {
		t.Fatalf("expected status to mention more entries, got %q", m.status)
	}

	m = runPage(t, m, m.imagePager, FocusImages, "")
	if len(m.images) != 3 || !m.imagesDone {
		t.Fatalf("expected all 3 images and done, got %v done=%v", m.images, m.imagesDone)
	}
	if len(m.table.Rows()) != 3 {
		t.Fatalf("expected 3 table rows, got %d", len(m.table.Rows()))
	}
}

func TestStalePageIsDropped(t *testing.T) {
	m := NewModel(newFakeBrowser(), Options{BatchSize: 2})
	stale := pageMsg{focus: FocusImages, pager: pager.New[string](nil), items: []string{"ghost"}}

	updated, _ := m.Update(stale)
	m = updated.(Model)

	if len(m.images) != 0 {
		t.Fatalf("expected stale page to be ignored, got %v", m.images)
	}
	if m.isLoading() {
		t.Fatalf("expected stale page to still end its load")
	}
}

func TestEnterOpensTagsAndManifest(t *testing.T) {
	m := NewModel(newFakeBrowser(), Options{BatchSize: 10})
	m = runPage(t, m, m.imagePager, FocusImages, "")

	updated, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	if m.focus != FocusTags || m.image != "team/api" {
		t.Fatalf("expected tags of team/api, got focus=%v image=%q", m.focus, m.image)
	}
	if m.tagPager == nil {
		t.Fatalf("expected a tag pager")
	}

	m = runPage(t, m, m.tagPager, FocusTags, "team/api")
	rows := m.table.Rows()
	if len(rows) != 3 {
		t.Fatalf("expected 3 tag rows, got %d", len(rows))
	}
	if rows[0][1] != "registry.example.com/team/api:v1.0.0" {
		t.Fatalf("unexpected pull reference %q", rows[0][1])
	}

	m.table.MoveDown(1)
	updated, _ = m.handleKey(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	if !m.hasTag || m.tag != "v1.1.0" {
		t.Fatalf("expected tag v1.1.0 selected, got %q", m.tag)
	}

	msg := loadManifestCmd(m.client, m.image, m.tag, time.Second)()
	updated, _ = m.Update(msg)
	m = updated.(Model)
	if m.focus != FocusManifest {
		t.Fatalf("expected manifest focus, got %v", m.focus)
	}
	if len(m.table.Rows()) != 2 {
		t.Fatalf("expected config and layer rows, got %d", len(m.table.Rows()))
	}
	if m.breadcrumb() != "team/api > v1.1.0" {
		t.Fatalf("unexpected breadcrumb %q", m.breadcrumb())
	}

	m.handleEscape()
	if m.focus != FocusTags || m.hasTag {
		t.Fatalf("expected escape to return to tags")
	}
	m.handleEscape()
	if m.focus != FocusImages || m.hasImage || m.tagPager != nil {
		t.Fatalf("expected escape to return to images")
	}
}

func TestStaleManifestIsDropped(t *testing.T) {
	m := NewModel(newFakeBrowser(), Options{})
	m.focus = FocusTags
	m.hasImage = true
	m.image = "team/api"
	m.loadingCount = 1

	updated, _ := m.Update(manifestMsg{image: "team/api", tag: "v1.1.0"})
	m = updated.(Model)
	if m.focus != FocusTags {
		t.Fatalf("expected focus to stay on tags, got %v", m.focus)
	}
	if m.isLoading() {
		t.Fatalf("expected the load to end")
	}
}

func TestFilterNarrowsRows(t *testing.T) {
	m := NewModel(newFakeBrowser(), Options{BatchSize: 10})
	m = runPage(t, m, m.imagePager, FocusImages, "")

	updated, _ := m.handleKey(keyRunes("/"))
	m = updated.(Model)
	if !m.filterActive {
		t.Fatalf("expected filter mode")
	}
	for _, r := range "team" {
		updated, _ = m.handleKey(keyRunes(string(r)))
		m = updated.(Model)
	}
	if len(m.table.Rows()) != 2 {
		t.Fatalf("expected 2 filtered rows, got %d", len(m.table.Rows()))
	}

	m.table.MoveDown(1)
	index, ok := m.selectedIndex()
	if !ok || m.images[index] != "team/web" {
		t.Fatalf("expected selection to map to team/web, got %d", index)
	}

	updated, _ = m.handleKey(tea.KeyMsg{Type: tea.KeyEsc})
	m = updated.(Model)
	if m.filterActive || m.filterInput.Value() != "" {
		t.Fatalf("expected filter to be cleared")
	}
	if len(m.table.Rows()) != 3 {
		t.Fatalf("expected all rows back, got %d", len(m.table.Rows()))
	}
}

func TestCursorSelectsFirstRowAfterEmptyTable(t *testing.T) {
	m := NewModel(newFakeBrowser(), Options{BatchSize: 10})
	m.table.SetCursor(0) // clamps to -1 while the table is empty
	m = runPage(t, m, m.imagePager, FocusImages, "")

	if got := m.table.Cursor(); got != 0 {
		t.Fatalf("expected cursor on the first row, got %d", got)
	}
	if index, ok := m.selectedIndex(); !ok || m.images[index] != "team/api" {
		t.Fatalf("expected team/api selected, got %d ok=%v", index, ok)
	}

	updated, _ := m.handleKey(keyRunes("/"))
	m = updated.(Model)
	for _, r := range "zzz" {
		updated, _ = m.handleKey(keyRunes(string(r)))
		m = updated.(Model)
	}
	if len(m.table.Rows()) != 0 {
		t.Fatalf("expected no rows for an unmatched filter, got %d", len(m.table.Rows()))
	}
	updated, _ = m.handleKey(tea.KeyMsg{Type: tea.KeyEsc})
	m = updated.(Model)

	updated, _ = m.handleKey(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	if m.focus != FocusTags || m.image != "team/api" {
		t.Fatalf("expected tags of team/api, got focus=%d image=%q", m.focus, m.image)
	}
}

func TestThrottledPageAndResume(t *testing.T) {
	browser := newFakeBrowser()
	browser.failAt = 2
	m := NewModel(browser, Options{BatchSize: 3})

	m = runPage(t, m, m.imagePager, FocusImages, "")
	if !m.isError {
		t.Fatalf("expected an error status")
	}
	if !strings.Contains(m.status, "throttled") || !strings.Contains(m.status, "2s") {
		t.Fatalf("unexpected status %q", m.status)
	}
	if len(m.images) != 2 {
		t.Fatalf("expected the items before the failure, got %v", m.images)
	}

	failed := m.imagePager
	updated, cmd := m.handleKey(keyRunes("r"))
	m = updated.(Model)
	if cmd == nil {
		t.Fatalf("expected a load command")
	}
	if m.imagePager == failed || browser.resumedCursor != "2" {
		t.Fatalf("expected a pager resumed at cursor 2, got %q", browser.resumedCursor)
	}

	m = runPage(t, m, m.imagePager, FocusImages, "")
	if got := strings.Join(m.images, ","); got != "team/api,team/web,tools/ci" {
		t.Fatalf("unexpected images after resume %q", got)
	}
	if m.isError || !m.imagesDone {
		t.Fatalf("expected a clean finished list, status %q", m.status)
	}
}

func TestCopySelectedReference(t *testing.T) {
	var copied string
	original := writeClipboard
	writeClipboard = func(value string) error {
		copied = value
		return nil
	}
	t.Cleanup(func() { writeClipboard = original })

	m := NewModel(newFakeBrowser(), Options{})
	m.openImage("team/api")
	m.tags = []string{"v1.0.0"}
	m.syncTable()

	updated, _ := m.handleKey(keyRunes("y"))
	m = updated.(Model)

	if copied != "registry.example.com/team/api:v1.0.0" {
		t.Fatalf("unexpected copied reference %q", copied)
	}
	if !strings.HasPrefix(m.status, "Copied") {
		t.Fatalf("unexpected status %q", m.status)
	}
}

func TestCopyWithoutSelection(t *testing.T) {
	original := writeClipboard
	t.Cleanup(func() { writeClipboard = original })
	writeClipboard = func(string) error {
		t.Fatalf("clipboard should not be written")
		return nil
	}
	m := NewModel(newFakeBrowser(), Options{})
	if m.copySelectedReference() {
		t.Fatalf("expected copy to fail on the image list")
	}
}

func TestLogsAreCapped(t *testing.T) {
	ch := make(chan string)
	m := NewModel(newFakeBrowser(), Options{Debug: true, LogCh: ch})
	for i := 0; i < maxLogLines+5; i++ {
		updated, _ := m.Update(logMsg("GET /v2/_catalog " + strconv.Itoa(i)))
		m = updated.(Model)
	}
	if len(m.logs) != maxLogLines {
		t.Fatalf("expected %d logs, got %d", maxLogLines, len(m.logs))
	}
	if !strings.Contains(m.View(), "Requests") {
		t.Fatalf("expected the request panel to render")
	}
}
