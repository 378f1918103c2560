package render

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/clarabennett2626/cftail/internal/tail"
)

// Theme selects a palette.
type Theme int

const (
	ThemeDark Theme = iota
	ThemeLight
)

// ParseTheme maps "dark" and "light" to a Theme; anything else is dark.
func ParseTheme(s string) Theme {
	if strings.EqualFold(s, "light") {
		return ThemeLight
	}
	return ThemeDark
}

type palette struct {
	label  lipgloss.Style
	stdout lipgloss.Style
	stderr lipgloss.Style
	debug  lipgloss.Style
	info   lipgloss.Style
	warn   lipgloss.Style
	err    lipgloss.Style
	fatal  lipgloss.Style
}

func darkPalette() palette {
	return palette{
		label:  lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
		stdout: lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		stderr: lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		debug:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		info:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		err:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		fatal:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
}

func lightPalette() palette {
	return palette{
		label:  lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		stdout: lipgloss.NewStyle().Foreground(lipgloss.Color("0")),
		stderr: lipgloss.NewStyle().Foreground(lipgloss.Color("160")),
		debug:  lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		info:   lipgloss.NewStyle().Foreground(lipgloss.Color("27")),
		warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("172")),
		err:    lipgloss.NewStyle().Foreground(lipgloss.Color("160")),
		fatal:  lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true),
	}
}

// Highlighter styles single lines of tailed output.
type Highlighter struct {
	plain  bool
	styles palette
}

// NewHighlighter returns a highlighter. With plain set, lines pass through
// unstyled and with ANSI escapes removed.
func NewHighlighter(theme Theme, plain bool) *Highlighter {
	p := darkPalette()
	if theme == ThemeLight {
		p = lightPalette()
	}
	return &Highlighter{plain: plain, styles: p}
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape sequences.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// Line renders one line. label may be empty. ERROR-channel lines are always
// drawn in the stderr colour; other lines are coloured by their level.
func (h *Highlighter) Line(ch tail.Channel, label, line string) string {
	line = strings.TrimRight(line, "\r")
	if h.plain {
		line = StripANSI(line)
		if label == "" {
			return line
		}
		return "[" + label + "] " + line
	}

	var body string
	if ch == tail.Error {
		body = h.styles.stderr.Render(line)
	} else {
		body = h.levelStyle(Level(line)).Render(line)
	}
	if label == "" {
		return body
	}
	return h.styles.label.Render("["+label+"]") + " " + body
}

func (h *Highlighter) levelStyle(level string) lipgloss.Style {
	switch level {
	case "debug", "trace":
		return h.styles.debug
	case "info":
		return h.styles.info
	case "warn":
		return h.styles.warn
	case "error":
		return h.styles.err
	case "fatal":
		return h.styles.fatal
	default:
		return h.styles.stdout
	}
}
