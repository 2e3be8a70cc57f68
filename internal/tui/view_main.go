package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	lipglossv2 "github.com/charmbracelet/lipgloss/v2"
)

func (m Model) renderApp() string {
	sections := []string{
		m.renderTopSection(),
		m.renderMainSection(),
	}
	if m.debug {
		sections = append(sections, m.renderLogs())
	}
	return strings.Join(sections, "\n")
}

func (m Model) renderTopSection() string {
	contextName := firstNonEmpty(m.context, "-")
	statusValue := firstNonEmpty(m.status, "-")

	statusLine := statusStyle.Render(statusValue)
	switch {
	case m.isLoading():
		label := "Loading"
		if statusValue != "-" {
			label += " " + statusValue
		}
		statusLine = statusLoadingStyle.Render(m.spinner.View() + " " + label)
	case m.isError:
		statusLine = statusErrorStyle.Render(statusValue)
	}

	headerLine := lipgloss.JoinHorizontal(lipgloss.Top, titleStyle.Render("regscan"), statusLine)
	metaLine := lipgloss.JoinHorizontal(
		lipgloss.Top,
		metaLabelStyle.Render("Context"),
		metaValueStyle.Render(contextName),
		metaLabelStyle.Render("Registry"),
		metaValueStyle.Render(firstNonEmpty(m.registryHost, "-")),
		metaLabelStyle.Render("Path"),
		metaValueStyle.Render(firstNonEmpty(m.breadcrumb(), "/")),
	)
	lines := []string{headerLine, metaLine}
	if inputLine := m.renderModeInputLine(); inputLine != "" {
		lines = append(lines, modeInputStyle.Render(inputLine))
	}
	lines = append(lines, m.renderHintRow())
	return topSectionStyle.Width(sectionPanelWidth(m.width)).Render(strings.Join(lines, "\n"))
}

func (m Model) renderHintRow() string {
	entries := m.hintEntries()
	cells := make([]string, 0, len(entries))
	for _, entry := range entries {
		cell := hintKeyStyle.Render(entry.Keys) + " " + hintLabelStyle.Render(entry.Action)
		cells = append(cells, lipglossv2.NewStyle().MarginRight(2).Render(cell))
	}
	return lipglossv2.JoinHorizontal(lipglossv2.Top, cells...)
}

func (m Model) renderMainSection() string {
	panelWidth := sectionPanelWidth(m.width)
	contentWidth := m.mainSectionContentWidth()
	title := mainSectionTitleStyle.Render(strings.ToUpper(focusLabel(m.focus)))
	titleLine := lipgloss.NewStyle().
		Width(contentWidth).
		Align(lipgloss.Center).
		Render(title)
	content := strings.Join([]string{
		titleLine,
		m.renderBody(),
	}, "\n")
	return mainSectionStyle.Width(panelWidth).Render(content)
}

func sectionPanelWidth(width int) int {
	if width <= 0 {
		width = defaultRenderWidth
	}
	panelWidth := width - 2
	if panelWidth < 24 {
		panelWidth = width
	}
	if panelWidth < 1 {
		panelWidth = 1
	}
	return panelWidth
}

func (m Model) mainSectionContentWidth() int {
	contentWidth := sectionPanelWidth(m.width) - mainSectionHChromeChars
	if contentWidth < 1 {
		return 1
	}
	return contentWidth
}

func (m Model) renderModeInputLine() string {
	if m.filterActive {
		return m.filterInput.View()
	}
	if value := strings.TrimSpace(m.filterInput.Value()); value != "" {
		return m.filterInput.Prompt + value
	}
	return ""
}

func (m Model) renderBody() string {
	view := m.table.View()
	if len(m.table.Rows()) == 0 {
		return view + "\n" + emptyStyle.Render(m.emptyBodyMessage())
	}
	return view
}

func (m Model) emptyBodyMessage() string {
	if m.isLoading() {
		return "Loading..."
	}
	if strings.TrimSpace(m.filterInput.Value()) != "" {
		return "No entries match the filter"
	}
	switch m.focus {
	case FocusTags:
		return "No tags"
	case FocusManifest:
		return "Manifest has no layers"
	default:
		return "No images"
	}
}
