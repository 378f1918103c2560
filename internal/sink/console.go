// Package sink delivers tailed content to terminals and message buses.
package sink

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/clarabennett2626/cftail/internal/render"
	"github.com/clarabennett2626/cftail/internal/tail"
)

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithHighlighter sets the line highlighter.
func WithHighlighter(h *render.Highlighter) ConsoleOption {
	return func(c *Console) { c.hl = h }
}

// WithLabels prefixes every line with the stream label.
func WithLabels(on bool) ConsoleOption {
	return func(c *Console) { c.labels = on }
}

// Console is a terminal shared by the streams of a session. Lines of
// different streams never interleave mid-line.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	hl     *render.Highlighter
	labels bool
}

// NewConsole writes to w, plain by default.
func NewConsole(w io.Writer, opts ...ConsoleOption) *Console {
	c := &Console{w: w, hl: render.NewHighlighter(render.ThemeDark, true)}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Stream returns the sink of one stream.
func (c *Console) Stream(label string, ch tail.Channel) tail.Sink {
	return &consoleStream{console: c, label: label, channel: ch}
}

func (c *Console) println(ch tail.Channel, label, line string) error {
	if !c.labels {
		label = ""
	}
	out := c.hl.Line(ch, label, line)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, out)
	return err
}

type consoleStream struct {
	console *Console
	label   string
	channel tail.Channel

	mu      sync.Mutex
	partial strings.Builder
	closed  bool
}

// Write emits every complete line of text. The remainder is held until the
// next newline or Close.
func (s *consoleStream) Write(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	s.partial.WriteString(text)
	buf := s.partial.String()
	last := strings.LastIndexByte(buf, '\n')
	if last < 0 {
		return nil
	}
	s.partial.Reset()
	s.partial.WriteString(buf[last+1:])

	for _, line := range strings.Split(buf[:last], "\n") {
		if err := s.console.println(s.channel, s.label, line); err != nil {
			return fmt.Errorf("writing %s: %w", s.label, err)
		}
	}
	return nil
}

// Close flushes a pending partial line. Further writes are dropped.
func (s *consoleStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.partial.Len() == 0 {
		return nil
	}
	rest := s.partial.String()
	s.partial.Reset()
	return s.console.println(s.channel, s.label, rest)
}
