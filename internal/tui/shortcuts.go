package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

type shortcutAction int

const (
	shortcutQuit shortcutAction = iota
	shortcutOpenFilter
	shortcutApplyFilter
	shortcutClearFilter
	shortcutOpen
	shortcutBack
	shortcutLoadMore
	shortcutRetry
	shortcutCopyReference
)

type shortcutDefinition struct {
	Keys      []string
	HintKeys  string
	HintLabel string
}

var shortcutDefinitions = map[shortcutAction]shortcutDefinition{
	shortcutQuit:          {Keys: []string{"q", "ctrl+c"}, HintKeys: "q", HintLabel: "quit"},
	shortcutOpenFilter:    {Keys: []string{"/"}, HintKeys: "/", HintLabel: "filter"},
	shortcutApplyFilter:   {Keys: []string{"enter"}, HintKeys: "enter", HintLabel: "apply"},
	shortcutClearFilter:   {Keys: []string{"esc"}, HintKeys: "esc", HintLabel: "clear"},
	shortcutOpen:          {Keys: []string{"enter"}, HintKeys: "enter", HintLabel: "open"},
	shortcutBack:          {Keys: []string{"esc", "backspace"}, HintKeys: "esc", HintLabel: "back"},
	shortcutLoadMore:      {Keys: []string{"n"}, HintKeys: "n", HintLabel: "more"},
	shortcutRetry:         {Keys: []string{"r"}, HintKeys: "r", HintLabel: "retry"},
	shortcutCopyReference: {Keys: []string{"y"}, HintKeys: "y", HintLabel: "copy ref"},
}

func isShortcut(msg tea.KeyMsg, action shortcutAction) bool {
	def, ok := shortcutDefinitions[action]
	if !ok || len(def.Keys) == 0 {
		return false
	}
	key := msg.String()
	for _, candidate := range def.Keys {
		if key == candidate {
			return true
		}
	}
	return false
}

func (m Model) hintActions() []shortcutAction {
	if m.filterActive {
		return []shortcutAction{shortcutApplyFilter, shortcutClearFilter}
	}
	switch m.focus {
	case FocusTags:
		return []shortcutAction{shortcutOpen, shortcutBack, shortcutOpenFilter, shortcutLoadMore, shortcutCopyReference, shortcutRetry, shortcutQuit}
	case FocusManifest:
		return []shortcutAction{shortcutBack, shortcutOpenFilter, shortcutCopyReference, shortcutQuit}
	default:
		return []shortcutAction{shortcutOpen, shortcutOpenFilter, shortcutLoadMore, shortcutRetry, shortcutQuit}
	}
}

func (m Model) hintEntries() []helpEntry {
	actions := m.hintActions()
	entries := make([]helpEntry, 0, len(actions))
	for _, action := range actions {
		def := shortcutDefinitions[action]
		entries = append(entries, helpEntry{Keys: def.HintKeys, Action: def.HintLabel})
	}
	return entries
}
