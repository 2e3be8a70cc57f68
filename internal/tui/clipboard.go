package tui

import (
	"fmt"

	"github.com/atotto/clipboard"

	"github.com/scottbass3/regscan/internal/registry"
)

var writeClipboard = clipboard.WriteAll

// copySelectedReference copies the pull reference of the selected tag, or
// of the open manifest's tag when the manifest view is focused.
func (m *Model) copySelectedReference() bool {
	ref, ok := m.selectedReference()
	if !ok {
		m.status = "No tag selected to copy"
		return false
	}
	if err := writeClipboard(ref); err != nil {
		m.status = fmt.Sprintf("Failed to copy %s: %v", ref, err)
		return false
	}
	m.status = fmt.Sprintf("Copied %s", ref)
	return true
}

func (m Model) selectedReference() (string, bool) {
	switch m.focus {
	case FocusTags:
		index, ok := m.selectedIndex()
		if !ok || !m.hasImage || index >= len(m.tags) {
			return "", false
		}
		return registry.PullReference(m.registryHost, m.image, m.tags[index]), true
	case FocusManifest:
		if !m.hasTag {
			return "", false
		}
		return registry.PullReference(m.registryHost, m.image, m.tag), true
	default:
		return "", false
	}
}
