package tui

import (
	"context"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/clarabennett2626/cftail/internal/tail"
)

// Sender is implemented by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// ProgramSink forwards the content of one stream to a running program.
type ProgramSink struct {
	p       Sender
	stream  string
	channel tail.Channel
	closed  atomic.Bool
}

// NewProgramSink returns the sink of the stream described by cfg.
func NewProgramSink(p Sender, cfg tail.StreamConfig) *ProgramSink {
	name := cfg.Name
	if name == "" {
		name = cfg.Path
	}
	return &ProgramSink{p: p, stream: name, channel: cfg.Channel}
}

func (s *ProgramSink) Write(text string) error {
	if s.closed.Load() || text == "" {
		return nil
	}
	s.p.Send(ChunkMsg{Stream: s.stream, Channel: s.channel, Text: text})
	return nil
}

func (s *ProgramSink) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.p.Send(FlushMsg{Stream: s.stream})
	}
	return nil
}

// StatusSource is a running session.
type StatusSource interface {
	Statuses() []tail.Status
	Done() <-chan struct{}
	Err() error
}

// Follow sends the session's stream statuses every interval and a DoneMsg
// once it finished. It returns when the session is done or ctx ends.
func Follow(ctx context.Context, p Sender, src StatusSource, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	p.Send(StatusMsg{Statuses: src.Statuses()})
	for {
		select {
		case <-ctx.Done():
			return
		case <-src.Done():
			p.Send(StatusMsg{Statuses: src.Statuses()})
			p.Send(DoneMsg{Err: src.Err()})
			return
		case <-ticker.C:
			p.Send(StatusMsg{Statuses: src.Statuses()})
		}
	}
}

var _ tail.Sink = (*ProgramSink)(nil)
