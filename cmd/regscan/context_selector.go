package main

import (
	"errors"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/scottbass3/regscan/internal/config"
)

var errSelectionCanceled = errors.New("selection canceled")

type contextItem struct {
	ctx config.Context
}

func (i contextItem) Title() string {
	if i.ctx.Name != "" {
		return i.ctx.Name
	}
	return i.ctx.Registry
}

func (i contextItem) Description() string {
	kind := i.ctx.Auth().Kind
	if kind == "none" {
		return i.ctx.Registry
	}
	return i.ctx.Registry + " (" + kind + ")"
}

func (i contextItem) FilterValue() string {
	return i.Title()
}

type contextSelectorModel struct {
	list   list.Model
	choice *config.Context
	err    error
}

func newContextSelectorModel(contexts []config.Context) contextSelectorModel {
	items := make([]list.Item, 0, len(contexts))
	for _, ctx := range contexts {
		items = append(items, contextItem{ctx: ctx})
	}

	lst := list.New(items, list.NewDefaultDelegate(), 0, 0)
	lst.Title = "Select Registry"
	lst.SetShowStatusBar(false)
	lst.SetFilteringEnabled(true)
	lst.Styles.Title = lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true)
	lst.Styles.HelpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	return contextSelectorModel{list: lst}
}

func (m contextSelectorModel) Init() tea.Cmd {
	return nil
}

func (m contextSelectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, maxInt(4, msg.Height-2))
	case tea.KeyMsg:
		// keys belong to the filter input while it is open
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "esc", "q", "ctrl+c":
			m.err = errSelectionCanceled
			return m, tea.Quit
		case "enter":
			if item, ok := m.list.SelectedItem().(contextItem); ok {
				choice := item.ctx
				m.choice = &choice
				return m, tea.Quit
			}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m contextSelectorModel) View() string {
	return m.list.View()
}

func selectContextTUI(contexts []config.Context) (config.Context, error) {
	result, err := tea.NewProgram(newContextSelectorModel(contexts), tea.WithAltScreen()).Run()
	if err != nil {
		return config.Context{}, err
	}
	final, ok := result.(contextSelectorModel)
	if !ok {
		return config.Context{}, errors.New("context selection failed")
	}
	if final.choice == nil {
		if final.err != nil {
			return config.Context{}, final.err
		}
		return config.Context{}, errSelectionCanceled
	}
	return *final.choice, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
