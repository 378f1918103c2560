package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/clarabennett2626/cftail/internal/render"
	"github.com/clarabennett2626/cftail/internal/tail"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#333333")).
			Padding(0, 1)

	statusKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Background(lipgloss.Color("#333333")).
			Bold(true).
			Padding(0, 1)

	exhaustedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")).
			Background(lipgloss.Color("#333333"))
)

// ChunkMsg carries fetched content of one stream.
type ChunkMsg struct {
	Stream  string
	Channel tail.Channel
	Text    string
}

// FlushMsg emits the pending partial line of a stream, sent when its sink
// closes.
type FlushMsg struct {
	Stream string
}

// StatusMsg carries the state of every stream of the session.
type StatusMsg struct {
	Statuses []tail.Status
}

// DoneMsg marks the end of the session.
type DoneMsg struct {
	Err error
}

type line struct {
	channel  tail.Channel
	rendered string
}

type pending struct {
	channel tail.Channel
	text    string
}

// Model is the console view of one session.
type Model struct {
	width  int
	height int
	ready  bool

	title  string
	hl     *render.Highlighter
	labels bool

	all     []line
	lines   []string // visible after filtering
	partial map[string]pending

	offset     int  // index of the first visible line
	autoScroll bool // stick to bottom when new lines arrive
	errorsOnly bool

	statuses []tail.Status
	done     bool
	err      error
}

// NewModel returns a model titled title. A nil highlighter renders plain
// text.
func NewModel(title string, hl *render.Highlighter, labels bool) Model {
	if hl == nil {
		hl = render.NewHighlighter(render.ThemeDark, true)
	}
	return Model{
		title:      title,
		hl:         hl,
		labels:     labels,
		partial:    make(map[string]pending),
		autoScroll: true,
	}
}

// viewHeight returns the number of lines available for log display
// (total height minus title bar and status bar).
func (m Model) viewHeight() int {
	// 1 line title + 1 blank + 1 status bar = 3 overhead lines
	h := m.height - 3
	if h < 1 {
		return 1
	}
	return h
}

// maxOffset returns the maximum valid scroll offset.
func (m Model) maxOffset() int {
	max := len(m.lines) - m.viewHeight()
	if max < 0 {
		return 0
	}
	return max
}

// clampOffset ensures offset is within valid bounds.
func (m *Model) clampOffset() {
	if m.offset < 0 {
		m.offset = 0
	}
	if max := m.maxOffset(); m.offset > max {
		m.offset = max
	}
}

// isAtBottom returns true if the viewport is scrolled to the bottom.
func (m Model) isAtBottom() bool {
	return m.offset >= m.maxOffset()
}

func (m *Model) follow() {
	if m.autoScroll {
		m.offset = m.maxOffset()
	}
}

func (m *Model) appendLine(stream string, ch tail.Channel, text string) {
	label := ""
	if m.labels {
		label = stream
	}
	l := line{channel: ch, rendered: m.hl.Line(ch, label, text)}
	m.all = append(m.all, l)
	if !m.errorsOnly || ch == tail.Error {
		m.lines = append(m.lines, l.rendered)
	}
}

func (m *Model) refilter() {
	m.lines = nil
	for _, l := range m.all {
		if !m.errorsOnly || l.channel == tail.Error {
			m.lines = append(m.lines, l.rendered)
		}
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "j", "down":
			m.autoScroll = false
			m.offset++
			m.clampOffset()
			if m.isAtBottom() {
				m.autoScroll = true
			}
		case "k", "up":
			m.autoScroll = false
			m.offset--
			m.clampOffset()
		case "g", "home":
			m.autoScroll = false
			m.offset = 0
		case "G", "end":
			m.offset = m.maxOffset()
			m.autoScroll = true
		case "pgdown", "f", "ctrl+f":
			m.autoScroll = false
			m.offset += m.viewHeight()
			m.clampOffset()
			if m.isAtBottom() {
				m.autoScroll = true
			}
		case "pgup", "b", "ctrl+b":
			m.autoScroll = false
			m.offset -= m.viewHeight()
			m.clampOffset()
		case "d", "ctrl+d":
			m.autoScroll = false
			m.offset += m.viewHeight() / 2
			m.clampOffset()
			if m.isAtBottom() {
				m.autoScroll = true
			}
		case "u", "ctrl+u":
			m.autoScroll = false
			m.offset -= m.viewHeight() / 2
			m.clampOffset()
		case "e":
			m.errorsOnly = !m.errorsOnly
			m.refilter()
			m.autoScroll = true
			m.offset = m.maxOffset()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.follow()
		m.clampOffset()

	case ChunkMsg:
		p := m.partial[msg.Stream]
		buf := p.text + msg.Text
		parts := strings.Split(buf, "\n")
		for _, text := range parts[:len(parts)-1] {
			m.appendLine(msg.Stream, msg.Channel, text)
		}
		if rest := parts[len(parts)-1]; rest != "" {
			m.partial[msg.Stream] = pending{channel: msg.Channel, text: rest}
		} else {
			delete(m.partial, msg.Stream)
		}
		m.follow()

	case FlushMsg:
		if p, ok := m.partial[msg.Stream]; ok {
			m.appendLine(msg.Stream, p.channel, p.text)
			delete(m.partial, msg.Stream)
			m.follow()
		}

	case StatusMsg:
		m.statuses = msg.Statuses

	case DoneMsg:
		m.done = true
		m.err = msg.Err
	}
	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder

	title := m.title
	if title == "" {
		title = "cftail"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteByte('\n')

	vh := m.viewHeight()
	if len(m.lines) == 0 {
		for i := 0; i < vh; i++ {
			switch {
			case i == vh/2-1 && m.errorsOnly:
				b.WriteString("  No stderr output yet.")
			case i == vh/2-1:
				b.WriteString("  No log output yet.")
			case i == vh/2:
				b.WriteString("  Waiting for the instance...")
			}
			b.WriteByte('\n')
		}
	} else {
		end := m.offset + vh
		if end > len(m.lines) {
			end = len(m.lines)
		}
		start := m.offset
		if start < 0 {
			start = 0
		}
		rendered := 0
		for i := start; i < end; i++ {
			b.WriteString(m.lines[i])
			b.WriteByte('\n')
			rendered++
		}
		for i := rendered; i < vh; i++ {
			b.WriteByte('\n')
		}
	}

	b.WriteString(m.statusLine())
	return b.String()
}

func (m Model) statusLine() string {
	total := len(m.lines)
	scrollInfo := "bottom"
	if total > 0 && !m.isAtBottom() {
		pct := 0
		if m.maxOffset() > 0 {
			pct = m.offset * 100 / m.maxOffset()
		}
		scrollInfo = fmt.Sprintf("%d%%", pct)
	}

	left := statusKeyStyle.Render("Lines:") + statusBarStyle.Render(fmt.Sprintf(" %d ", total))
	if m.errorsOnly {
		left += statusKeyStyle.Render("stderr only")
	}
	streams := m.streamSummary()
	right := statusKeyStyle.Render("Pos:") + statusBarStyle.Render(fmt.Sprintf(" %s ", scrollInfo))

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(streams) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return statusBarStyle.Render(left + streams + strings.Repeat(" ", gap) + right)
}

func (m Model) streamSummary() string {
	if m.done {
		if m.err != nil {
			return exhaustedStyle.Render(" finished: " + m.err.Error() + " ")
		}
		return statusBarStyle.Render(" finished ")
	}
	var parts []string
	for _, st := range m.statuses {
		s := fmt.Sprintf("%s:%s", st.Name, st.State)
		if st.State == tail.StateActive && st.Remaining > 0 {
			s = fmt.Sprintf("%s:%d", st.Name, st.Remaining)
		}
		if st.State == tail.StateExhausted {
			parts = append(parts, exhaustedStyle.Render(s))
			continue
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return ""
	}
	return statusBarStyle.Render(" " + strings.Join(parts, " ") + " ")
}
