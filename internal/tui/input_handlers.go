package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/scottbass3/regscan/internal/registry"
)

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filterActive {
		switch {
		case isShortcut(msg, shortcutClearFilter):
			m.clearFilter()
			m.syncTable()
			return m, nil
		case isShortcut(msg, shortcutApplyFilter):
			m.filterActive = false
			m.filterInput.Blur()
			m.syncTable()
			return m, nil
		}
		before := m.filterInput.Value()
		var cmd tea.Cmd
		m.filterInput, cmd = m.filterInput.Update(msg)
		if m.filterInput.Value() != before {
			m.table.SetCursor(0)
			m.syncTable()
		}
		return m, cmd
	}

	switch {
	case isShortcut(msg, shortcutQuit):
		return m, tea.Quit
	case isShortcut(msg, shortcutBack):
		m.handleEscape()
		return m, nil
	case isShortcut(msg, shortcutOpenFilter):
		m.filterActive = true
		m.filterInput.Focus()
		m.filterInput.CursorEnd()
		m.syncTable()
		return m, nil
	case isShortcut(msg, shortcutCopyReference):
		m.copySelectedReference()
		return m, nil
	case isShortcut(msg, shortcutLoadMore):
		return m, m.loadMore()
	case isShortcut(msg, shortcutRetry):
		return m, m.retry()
	case isShortcut(msg, shortcutOpen):
		return m, m.handleEnter()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) clearFilter() {
	m.filterActive = false
	m.filterInput.SetValue("")
	m.filterInput.Blur()
	m.table.SetCursor(0)
}

func (m *Model) handleEnter() tea.Cmd {
	index, ok := m.selectedIndex()
	if !ok {
		return nil
	}
	switch m.focus {
	case FocusImages:
		if index >= len(m.images) {
			return nil
		}
		m.openImage(m.images[index])
		return m.loadTags(false)
	case FocusTags:
		if index >= len(m.tags) {
			return nil
		}
		m.hasTag = true
		m.tag = m.tags[index]
		m.status = registry.PullReference(m.registryHost, m.image, m.tag)
		return tea.Batch(m.startLoading(), loadManifestCmd(m.client, m.image, m.tag, m.timeout))
	default:
		return nil
	}
}

func (m *Model) openImage(image string) {
	m.hasImage = true
	m.image = image
	m.tags = nil
	m.tagPager = nil
	m.tagsDone = false
	m.focus = FocusTags
	m.clearFilter()
	m.syncTable()
}

func (m *Model) handleEscape() {
	if value := m.filterInput.Value(); value != "" {
		m.clearFilter()
		m.syncTable()
		return
	}
	switch m.focus {
	case FocusManifest:
		m.focus = FocusTags
		m.hasTag = false
		m.tag = ""
		m.manifest = registry.Manifest{}
	case FocusTags:
		if m.hasTag {
			// a manifest load is still in flight; drop it
			m.hasTag = false
			m.tag = ""
			break
		}
		m.focus = FocusImages
		m.hasImage = false
		m.image = ""
		m.tags = nil
		m.tagPager = nil
		m.tagsDone = false
	default:
		return
	}
	m.isError = false
	m.status = m.listStatus()
	m.table.SetCursor(0)
	m.syncTable()
}

func (m *Model) loadMore() tea.Cmd {
	switch m.focus {
	case FocusImages:
		return m.loadImages(false)
	case FocusTags:
		return m.loadTags(false)
	default:
		return nil
	}
}

// retry resumes a failed list from the page that failed. A healthy list is
// reloaded from the start.
func (m *Model) retry() tea.Cmd {
	switch m.focus {
	case FocusImages:
		if m.imagePager != nil && m.imagePager.Err() != nil {
			return m.loadImages(true)
		}
		m.images = nil
		m.imagesDone = false
		m.imagePager = m.client.CatalogPager()
		m.syncTable()
		return m.loadImages(false)
	case FocusTags:
		if m.hasTag {
			return tea.Batch(m.startLoading(), loadManifestCmd(m.client, m.image, m.tag, m.timeout))
		}
		if m.tagPager != nil && m.tagPager.Err() != nil {
			return m.loadTags(true)
		}
		m.tags = nil
		m.tagsDone = false
		m.tagPager = nil
		m.syncTable()
		return m.loadTags(false)
	case FocusManifest:
		if !m.hasTag {
			return nil
		}
		return tea.Batch(m.startLoading(), loadManifestCmd(m.client, m.image, m.tag, m.timeout))
	default:
		return nil
	}
}
