// Package tail polls remote log files and renders new content to sinks,
// with a bounded retry budget per stream and one-shot stream chaining.
package tail

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Channel tags content with the console channel it belongs to.
type Channel int

const (
	// Standard is the stdout channel.
	Standard Channel = iota
	// Error is the stderr channel.
	Error
)

func (c Channel) String() string {
	if c == Error {
		return "stderr"
	}
	return "stdout"
}

// Fetcher reads a remote file starting at offset. It returns "" and a nil
// error when there is nothing new yet.
type Fetcher interface {
	Fetch(ctx context.Context, path string, offset int64) (string, error)
}

// FetcherFunc adapts a function to a Fetcher.
type FetcherFunc func(ctx context.Context, path string, offset int64) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, path string, offset int64) (string, error) {
	return f(ctx, path, offset)
}

// Watcher is implemented by fetchers that can tell when a path may have
// changed. The scheduler then polls early instead of waiting the full
// interval.
type Watcher interface {
	Watch(path string) (<-chan struct{}, func())
}

// Sink receives the content of exactly one stream. Writes after Close must be
// no-ops and Close must be idempotent.
type Sink interface {
	Write(text string) error
	Close() error
}

// StreamConfig describes one polled file.
type StreamConfig struct {
	// Name is shown to the user, e.g. "staging" or "stdout".
	Name    string
	Path    string
	Channel Channel
	// Policy overrides the scheduler's retry policy when MaxAttempts is set.
	Policy RetryPolicy
	// Followers start once this stream produced content or gave up.
	Followers []StreamConfig
}

// State is the lifecycle state of a stream.
type State int

const (
	// StateActive streams are still polled.
	StateActive State = iota
	// StateExhausted streams gave up after their retry budget or a fatal
	// error.
	StateExhausted
	// StateClosed streams were stopped by their owner.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExhausted:
		return "exhausted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outcome is what a single poll observed.
type Outcome int

const (
	OutcomeInactive  Outcome = iota // stream was not active, nothing fetched
	OutcomeContent                  // new content was written to the sink
	OutcomeNoContent                // file has not grown, or not there yet
	OutcomeRetry                    // fetch failed, budget not spent
	OutcomeExhausted                // fetch failed and the stream gave up
	OutcomeDiscarded                // stream closed while the fetch ran
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContent:
		return "content"
	case OutcomeNoContent:
		return "no-content"
	case OutcomeRetry:
		return "retry"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "inactive"
	}
}

// PollResult reports a single poll.
type PollResult struct {
	Outcome Outcome
	// Written is the number of content bytes delivered to the sink.
	Written int
	// Chained holds followers released by this poll, if any.
	Chained []StreamConfig
}

// Active reports whether the stream should be polled again.
func (r PollResult) Active() bool {
	switch r.Outcome {
	case OutcomeContent, OutcomeNoContent, OutcomeRetry:
		return true
	default:
		return false
	}
}

// Status is a point-in-time view of a stream.
type Status struct {
	Name      string
	Path      string
	Channel   Channel
	State     State
	Offset    int64
	Remaining int
	Chain     ChainState
	Produced  bool
	Err       error
}

// Stream is a polled file plus its offset and retry state.
type Stream struct {
	cfg     StreamConfig
	policy  RetryPolicy
	fetcher Fetcher
	sink    Sink
	chain   *Chain
	logger  zerolog.Logger
	tracer  trace.Tracer

	mu       sync.Mutex
	offset   Offset
	budget   Budget
	state    State
	produced bool
	err      error
}

// NewStream creates an active stream. policy is used unless cfg.Policy sets
// its own MaxAttempts.
func NewStream(cfg StreamConfig, policy RetryPolicy, fetcher Fetcher, sink Sink, logger zerolog.Logger) *Stream {
	if cfg.Policy.MaxAttempts > 0 {
		policy = cfg.Policy
	}
	policy = policy.withDefaults()
	if cfg.Name == "" {
		cfg.Name = cfg.Path
	}
	return &Stream{
		cfg:     cfg,
		policy:  policy,
		fetcher: fetcher,
		sink:    sink,
		chain:   NewChain(cfg.Followers...),
		logger:  logger.With().Str("stream", cfg.Name).Str("path", cfg.Path).Logger(),
		tracer:  otel.Tracer("cftail/tail"),
		budget:  NewBudget(policy.MaxAttempts),
		state:   StateActive,
	}
}

// Config returns the stream configuration.
func (s *Stream) Config() StreamConfig { return s.cfg }

// Status returns a snapshot of the stream.
func (s *Stream) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Name:      s.cfg.Name,
		Path:      s.cfg.Path,
		Channel:   s.cfg.Channel,
		State:     s.state,
		Offset:    s.offset.Value(),
		Remaining: s.budget.Remaining(),
		Chain:     s.chain.State(),
		Produced:  s.produced,
		Err:       s.err,
	}
}

// Poll runs one fetch cycle. The fetch itself runs without holding the
// stream lock; its result is discarded if the stream was closed meanwhile.
func (s *Stream) Poll(ctx context.Context) PollResult {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return PollResult{Outcome: OutcomeInactive}
	}
	offset := s.offset.Value()
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "tail.poll", trace.WithAttributes(
		attribute.String("tail.stream", s.cfg.Name),
		attribute.String("tail.path", s.cfg.Path),
		attribute.Int64("tail.offset", offset),
	))
	defer span.End()

	text, err := s.fetcher.Fetch(ctx, s.cfg.Path, offset)

	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.apply(text, err)
	span.SetAttributes(attribute.String("tail.outcome", res.Outcome.String()))
	if res.Outcome == OutcomeExhausted && s.err != nil {
		span.SetStatus(codes.Error, s.err.Error())
	}
	return res
}

// apply runs the retry state machine for one fetch result. Callers hold mu.
func (s *Stream) apply(text string, err error) PollResult {
	if s.state != StateActive {
		s.logger.Debug().Msg("discarding result of closed stream")
		return PollResult{Outcome: OutcomeDiscarded}
	}

	if err == nil && text != "" {
		s.offset.Advance(text)
		s.budget.Reset()
		first := !s.produced
		s.produced = true
		if werr := s.sink.Write(text); werr != nil {
			s.logger.Warn().Err(werr).Msg("sink write failed")
		}
		res := PollResult{Outcome: OutcomeContent, Written: len(text)}
		if first {
			res.Chained = s.chain.Fire()
		}
		return res
	}

	if err == nil {
		s.budget.Reset()
		return PollResult{Outcome: OutcomeNoContent}
	}

	switch s.policy.Classify(err) {
	case ClassBenign:
		s.logger.Debug().Err(err).Msg("no content yet")
		s.budget.Reset()
		return PollResult{Outcome: OutcomeNoContent}
	case ClassFatal:
		s.logger.Error().Err(err).Msg("fatal fetch error")
		s.budget.Exhaust()
		return s.exhaust(err)
	}

	s.logger.Debug().Err(err).Int("remaining", s.budget.Remaining()-1).Msg("fetch failed")
	if s.budget.Consume() {
		s.logger.Error().Err(err).Msg("retry budget exhausted")
		return s.exhaust(err)
	}
	if msg := s.policy.Retry(s.cfg.Name, s.budget.Failures(), s.budget.Max()); msg != "" {
		if werr := s.sink.Write(msg); werr != nil {
			s.logger.Warn().Err(werr).Msg("sink write failed")
		}
	}
	return PollResult{Outcome: OutcomeRetry}
}

// exhaust deactivates the stream for good. Callers hold mu.
func (s *Stream) exhaust(err error) PollResult {
	s.state = StateExhausted
	s.err = err
	if msg := s.policy.Exhausted(s.cfg.Name, err); msg != "" {
		if werr := s.sink.Write(msg); werr != nil {
			s.logger.Warn().Err(werr).Msg("sink write failed")
		}
	}
	if cerr := s.sink.Close(); cerr != nil {
		s.logger.Warn().Err(cerr).Msg("closing sink")
	}
	res := PollResult{Outcome: OutcomeExhausted}
	if !s.produced {
		res.Chained = s.chain.Fire()
	}
	return res
}

// Close deactivates the stream and closes its sink. An in-flight poll is not
// interrupted but its result is dropped.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive {
		s.state = StateClosed
	}
	return s.sink.Close()
}
