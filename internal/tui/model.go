package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/scottbass3/regscan/internal/pager"
	"github.com/scottbass3/regscan/internal/registry"
)

var (
	colorPrimary  = lipgloss.Color("62")
	colorMuted    = lipgloss.Color("241")
	colorAccent   = lipgloss.Color("204")
	colorSelected = lipgloss.Color("229")
)

var (
	titleStyle            = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true).MarginRight(2)
	statusStyle           = lipgloss.NewStyle().Foreground(colorMuted)
	statusLoadingStyle    = lipgloss.NewStyle().Foreground(colorAccent)
	statusErrorStyle      = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	metaLabelStyle        = lipgloss.NewStyle().Foreground(colorMuted).MarginRight(1)
	metaValueStyle        = lipgloss.NewStyle().MarginRight(3)
	modeInputStyle        = lipgloss.NewStyle().Foreground(colorAccent)
	hintKeyStyle          = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	hintLabelStyle        = lipgloss.NewStyle().Foreground(colorMuted)
	emptyStyle            = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)
	logTitleStyle         = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	mainSectionTitleStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	topSectionStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorMuted).Padding(0, 1)
	mainSectionStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorPrimary).Padding(0, 1)
	logBoxStyle           = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorMuted).Padding(0, 1)
)

type Model struct {
	width  int
	height int

	status  string
	isError bool
	focus   Focus
	context string

	client       Browser
	registryHost string

	images     []string
	imagePager *pager.Pager[string]
	imagesDone bool

	tags      []string
	tagPager  *pager.Pager[string]
	tagsDone  bool
	manifest  registry.Manifest
	hasImage  bool
	image     string
	hasTag    bool
	tag       string
	batchSize int
	timeout   time.Duration

	filterActive bool
	filterInput  textinput.Model
	table        table.Model
	spinner      spinner.Model
	loadingCount int

	debug  bool
	logCh  <-chan string
	logs   []string
	logMax int
}

func NewModel(client Browser, opts Options) Model {
	filter := textinput.New()
	filter.Prompt = "/ "
	filter.Placeholder = "filter"
	filter.CharLimit = 64
	filter.Blur()

	tbl := table.New()
	tbl.SetStyles(tableStyles())
	tbl.SetHeight(defaultTableHeight)
	tbl.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = statusLoadingStyle

	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultLoadTimeout
	}

	m := Model{
		status:       fmt.Sprintf("Registry: %s", client.Host()),
		focus:        FocusImages,
		context:      opts.Context,
		client:       client,
		registryHost: client.Host(),
		batchSize:    batch,
		timeout:      timeout,
		filterInput:  filter,
		table:        tbl,
		spinner:      spin,
		debug:        opts.Debug,
		logCh:        opts.LogCh,
		logMax:       maxLogLines,
		imagePager:   client.CatalogPager(),
		loadingCount: 1,
	}
	m.syncTable()
	return m
}

// Init loads the first catalog batch; NewModel already counts it as loading.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.spinner.Tick,
		loadPageCmd(m.imagePager, FocusImages, "", m.batchSize, m.timeout),
	}
	if m.logCh != nil {
		cmds = append(cmds, listenLogs(m.logCh))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.syncTable()
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case spinner.TickMsg:
		if m.loadingCount == 0 {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case pageMsg:
		m.handlePage(msg)
		return m, nil
	case manifestMsg:
		m.handleManifest(msg)
		return m, nil
	case logMsg:
		m.appendLog(string(msg))
		return m, listenLogs(m.logCh)
	}
	return m, nil
}

func (m Model) View() string {
	return m.renderApp()
}

// handlePage applies a loaded batch. Every batch ends a load, but batches
// from a pager the user has navigated away from are dropped.
func (m *Model) handlePage(msg pageMsg) {
	m.stopLoading()
	switch msg.focus {
	case FocusImages:
		if msg.pager != m.imagePager {
			return
		}
		m.images = append(m.images, msg.items...)
		m.imagesDone = msg.done
	case FocusTags:
		if msg.pager != m.tagPager || msg.image != m.image {
			return
		}
		m.tags = append(m.tags, msg.items...)
		m.tagsDone = msg.done
	default:
		return
	}

	if msg.err != nil {
		m.setError(msg.err)
	} else {
		m.isError = false
		m.status = m.listStatus()
	}
	m.syncTable()
}

func (m *Model) handleManifest(msg manifestMsg) {
	m.stopLoading()
	if !m.hasTag || msg.image != m.image || msg.tag != m.tag {
		return
	}
	if msg.err != nil {
		m.setError(msg.err)
		return
	}
	m.manifest = msg.manifest
	m.focus = FocusManifest
	m.isError = false
	m.status = manifestStatus(msg.manifest)
	m.clearFilter()
	m.syncTable()
}

func (m *Model) setError(err error) {
	m.isError = true
	if throttled, ok := registry.IsThrottled(err); ok {
		if throttled.RetryAfter > 0 {
			m.status = fmt.Sprintf("Registry throttled; retry in %s (press r)", throttled.RetryAfter)
		} else {
			m.status = "Registry throttled; press r to retry"
		}
		return
	}
	m.status = fmt.Sprintf("Error: %v", err)
}

func (m Model) listStatus() string {
	switch m.focus {
	case FocusTags:
		return fmt.Sprintf("%s tags%s", formatCount(len(m.tags)), moreSuffix(m.tagsDone))
	default:
		return fmt.Sprintf("%s images%s", formatCount(len(m.images)), moreSuffix(m.imagesDone))
	}
}

func moreSuffix(done bool) string {
	if done {
		return ""
	}
	return " (n for more)"
}

func manifestStatus(manifest registry.Manifest) string {
	parts := []string{firstNonEmpty(manifest.MediaType, "unknown media type")}
	if manifest.Digest != "" {
		parts = append(parts, manifest.Digest.String())
	}
	return strings.Join(parts, "  ")
}

// loadImages pulls the next batch of catalog entries. With resume set a
// failed pager restarts from the page that failed.
func (m *Model) loadImages(resume bool) tea.Cmd {
	if m.imagePager == nil {
		m.imagePager = m.client.CatalogPager()
	} else if resume && m.imagePager.Err() != nil {
		m.imagePager = m.client.ResumeCatalog(m.imagePager.Cursor())
	}
	if m.imagesDone || m.imagePager.Err() != nil {
		return nil
	}
	return tea.Batch(m.startLoading(), loadPageCmd(m.imagePager, FocusImages, "", m.batchSize, m.timeout))
}

func (m *Model) loadTags(resume bool) tea.Cmd {
	if !m.hasImage {
		return nil
	}
	if m.tagPager == nil {
		m.tagPager = m.client.ImageTagPager(m.image)
	} else if resume && m.tagPager.Err() != nil {
		m.tagPager = m.client.ResumeImageTags(m.image, m.tagPager.Cursor())
	}
	if m.tagsDone || m.tagPager.Err() != nil {
		return nil
	}
	return tea.Batch(m.startLoading(), loadPageCmd(m.tagPager, FocusTags, m.image, m.batchSize, m.timeout))
}

func (m *Model) startLoading() tea.Cmd {
	m.loadingCount++
	if m.loadingCount == 1 {
		return m.spinner.Tick
	}
	return nil
}

func (m *Model) stopLoading() {
	if m.loadingCount > 0 {
		m.loadingCount--
	}
}

func (m Model) isLoading() bool {
	return m.loadingCount > 0
}

func (m *Model) appendLog(entry string) {
	if entry == "" {
		return
	}
	m.logs = append(m.logs, entry)
	if m.logMax > 0 && len(m.logs) > m.logMax {
		m.logs = m.logs[len(m.logs)-m.logMax:]
	}
}

func (m Model) breadcrumb() string {
	parts := []string{}
	if m.hasImage {
		parts = append(parts, m.image)
	}
	if m.hasTag {
		parts = append(parts, m.tag)
	}
	return strings.Join(parts, " > ")
}

func focusLabel(focus Focus) string {
	switch focus {
	case FocusTags:
		return "Tags"
	case FocusManifest:
		return "Manifest"
	default:
		return "Images"
	}
}
