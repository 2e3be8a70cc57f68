package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/scottbass3/regscan/internal/registry"
)

type listView struct {
	headers []string
	rows    [][]string
	indices []int
}

func (m Model) listView() listView {
	filter := m.filterInput.Value()
	switch m.focus {
	case FocusTags:
		return filterRows(tagHeaders(), tagRows(m.registryHost, m.image, m.tags), filter)
	case FocusManifest:
		return filterRows(manifestHeaders(), manifestRows(m.manifest), filter)
	default:
		return filterRows(imageHeaders(), imageRows(m.images), filter)
	}
}

func imageHeaders() []string {
	return []string{"Name"}
}

func tagHeaders() []string {
	return []string{"Tag", "Pull reference"}
}

func manifestHeaders() []string {
	return []string{"Digest", "Media type", "Size"}
}

func imageRows(images []string) [][]string {
	rows := make([][]string, 0, len(images))
	for _, image := range images {
		rows = append(rows, []string{image})
	}
	return rows
}

func tagRows(host, image string, tags []string) [][]string {
	rows := make([][]string, 0, len(tags))
	for _, tag := range tags {
		rows = append(rows, []string{tag, registry.PullReference(host, image, tag)})
	}
	return rows
}

// manifestRows lists the child manifests of an index, otherwise the config
// and layers. Schema 1 manifests only carry layer digests.
func manifestRows(manifest registry.Manifest) [][]string {
	var rows [][]string
	if manifest.IsIndex() {
		for _, child := range manifest.Manifests {
			mediaType := child.MediaType
			if child.Platform != nil {
				mediaType += " (" + child.Platform.OS + "/" + child.Platform.Architecture + ")"
			}
			rows = append(rows, []string{child.Digest.String(), mediaType, formatSize(child.Size)})
		}
		return rows
	}
	if manifest.Config != nil {
		rows = append(rows, []string{manifest.Config.Digest.String(), manifest.Config.MediaType, formatSize(manifest.Config.Size)})
	}
	for _, layer := range manifest.Layers {
		rows = append(rows, []string{layer.Digest.String(), layer.MediaType, formatSize(layer.Size)})
	}
	if len(manifest.Layers) == 0 {
		for _, blob := range manifest.BlobDigests() {
			rows = append(rows, []string{blob.String(), "layer", "-"})
		}
	}
	return rows
}

func filterRows(headers []string, rows [][]string, filter string) listView {
	filter = strings.ToLower(strings.TrimSpace(filter))
	view := listView{headers: headers}
	for i, row := range rows {
		if filter != "" && !rowMatches(row, filter) {
			continue
		}
		view.rows = append(view.rows, row)
		view.indices = append(view.indices, i)
	}
	return view
}

func rowMatches(row []string, filter string) bool {
	for _, cell := range row {
		if strings.Contains(strings.ToLower(cell), filter) {
			return true
		}
	}
	return false
}

func toTableRows(rows [][]string) []table.Row {
	out := make([]table.Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, table.Row(row))
	}
	return out
}

func makeColumns(focus Focus, width int) []table.Column {
	// the default cell style pads one space on each side
	content := func(count int) int {
		available := width - 2*count
		if available < count {
			return count
		}
		return available
	}

	switch focus {
	case FocusTags:
		available := content(2)
		tagWidth := clampInt(available/3, 8, 40)
		return []table.Column{
			{Title: "Tag", Width: tagWidth},
			{Title: "Pull reference", Width: maxInt(1, available-tagWidth)},
		}
	case FocusManifest:
		available := content(3)
		sizeWidth := 10
		digestWidth := clampInt(available/2, 12, 71)
		return []table.Column{
			{Title: "Digest", Width: digestWidth},
			{Title: "Media type", Width: maxInt(1, available-digestWidth-sizeWidth)},
			{Title: "Size", Width: sizeWidth},
		}
	default:
		return []table.Column{{Title: "Name", Width: maxInt(1, content(1))}}
	}
}

func tableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorMuted).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(colorSelected).
		Background(colorPrimary).
		Bold(false)
	return styles
}

func (m *Model) syncTable() {
	list := m.listView()
	columns := makeColumns(m.focus, m.mainSectionContentWidth())
	rows := toTableRows(list.rows)

	// columns first: SetRows renders against the current column count
	m.table.SetRows(nil)
	m.table.SetColumns(columns)
	m.table.SetRows(rows)
	// SetCursor on an empty table stores -1, so only move it while rows exist
	if len(rows) > 0 {
		switch cursor := m.table.Cursor(); {
		case cursor < 0:
			m.table.SetCursor(0)
		case cursor >= len(rows):
			m.table.SetCursor(len(rows) - 1)
		}
	}
	m.table.SetHeight(m.tableHeight())
}

func (m Model) tableHeight() int {
	if m.height <= 0 {
		return defaultTableHeight
	}
	// top section (4 lines + border), main chrome, optional log panel
	reserved := 6 + 4
	if m.debug {
		reserved += maxVisibleLogs + 3
	}
	return maxInt(minTableHeight, m.height-reserved)
}

// selectedIndex maps the table cursor back into the unfiltered list.
func (m Model) selectedIndex() (int, bool) {
	list := m.listView()
	cursor := m.table.Cursor()
	if cursor < 0 || cursor >= len(list.indices) {
		return 0, false
	}
	return list.indices[cursor], true
}
