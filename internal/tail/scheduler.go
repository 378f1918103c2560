package tail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// ErrStopped is returned when streams are added to a stopped scheduler.
var ErrStopped = errors.New("scheduler stopped")

// SinkFactory opens the sink for a stream.
type SinkFactory func(cfg StreamConfig) (Sink, error)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the pause between polls of one stream.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMaxInterval lets the pause of a stream without content double after
// every poll, from the interval up to d. Content resets it. A d not above the
// interval keeps the pause constant.
func WithMaxInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.maxInterval = d }
}

// WithRetryPolicy sets the default retry policy of new streams.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Scheduler) { s.policy = p.withDefaults() }
}

// WithFetchTimeout bounds every fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.fetchTimeout = d }
}

// WithLogger sets the diagnostics logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithObserver registers a callback that runs after every poll.
func WithObserver(f func(Status, PollResult)) Option {
	return func(s *Scheduler) { s.observer = f }
}

// Scheduler drives a set of streams, one goroutine per stream. A stream is
// polled again only after its previous poll finished.
type Scheduler struct {
	fetcher      Fetcher
	sinks        SinkFactory
	policy       RetryPolicy
	interval     time.Duration
	maxInterval  time.Duration
	fetchTimeout time.Duration
	logger       zerolog.Logger
	observer     func(Status, PollResult)

	mu      sync.Mutex
	streams []*Stream
	started bool
	stopped bool

	wg   sync.WaitGroup
	stop chan struct{}
	done chan struct{}
}

// NewScheduler returns an idle scheduler.
func NewScheduler(fetcher Fetcher, sinks SinkFactory, opts ...Option) *Scheduler {
	s := &Scheduler{
		fetcher:      fetcher,
		sinks:        sinks,
		policy:       DefaultRetryPolicy(),
		interval:     DefaultInterval,
		fetchTimeout: DefaultFetchTimeout,
		logger:       zerolog.Nop(),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With().Str("component", "tail").Logger()
	return s
}

// Start begins polling the given streams. It does not block. Start may be
// called only once.
func (s *Scheduler) Start(ctx context.Context, cfgs ...StreamConfig) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	var result *multierror.Error
	for _, cfg := range cfgs {
		if err := s.add(ctx, cfg); err != nil {
			result = multierror.Append(result, err)
		}
	}

	go func() {
		s.wg.Wait()
		close(s.done)
	}()

	err := result.ErrorOrNil()
	if err != nil && len(result.Errors) == len(cfgs) {
		s.Stop()
		return err
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("some streams could not be started")
	}
	return nil
}

// add registers a stream and starts its poll loop.
func (s *Scheduler) add(ctx context.Context, cfg StreamConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}

	sink, err := s.sinks(cfg)
	if err != nil {
		return fmt.Errorf("opening sink for %s: %w", cfg.Path, err)
	}
	st := NewStream(cfg, s.policy, s.fetcher, sink, s.logger)
	s.streams = append(s.streams, st)
	s.wg.Add(1)
	go s.run(ctx, st)
	s.logger.Debug().Str("stream", st.cfg.Name).Str("path", cfg.Path).Msg("stream started")
	return nil
}

func (s *Scheduler) run(ctx context.Context, st *Stream) {
	defer s.wg.Done()

	var wake <-chan struct{}
	if w, ok := s.fetcher.(Watcher); ok {
		ch, cancel := w.Watch(st.cfg.Path)
		defer cancel()
		wake = ch
	}

	bo := s.backOff()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			_ = st.Close()
			return
		default:
		}

		res := s.poll(ctx, st)
		if s.observer != nil {
			s.observer(st.Status(), res)
		}
		for _, f := range res.Chained {
			if err := s.add(ctx, f); err != nil && !errors.Is(err, ErrStopped) {
				s.logger.Error().Err(err).Str("stream", f.Name).Msg("starting chained stream")
			}
		}
		if !res.Active() {
			return
		}

		if res.Outcome == OutcomeContent {
			bo.Reset()
		}
		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-timer.C:
		case <-wake:
			timer.Stop()
		case <-s.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			_ = st.Close()
			return
		}
	}
}

// backOff returns the pause policy of one stream. Neither policy gives up;
// retries are bounded by the stream's RetryPolicy.
func (s *Scheduler) backOff() backoff.BackOff {
	if s.maxInterval <= s.interval {
		return backoff.NewConstantBackOff(s.interval)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.interval
	b.MaxInterval = s.maxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// poll runs a fetch detached from cancellation so that Stop never tears a
// request down halfway; the stream discards the result instead.
func (s *Scheduler) poll(ctx context.Context, st *Stream) PollResult {
	fctx := context.WithoutCancel(ctx)
	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(fctx, s.fetchTimeout)
		defer cancel()
	}
	return st.Poll(fctx)
}

// Stop deactivates every stream and closes their sinks. It does not wait for
// in-flight fetches; use Done for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	streams := append([]*Stream(nil), s.streams...)
	s.mu.Unlock()

	// Sinks are closed before the goroutines are released so that Done
	// never fires ahead of a sink flush.
	for _, st := range streams {
		if err := st.Close(); err != nil {
			s.logger.Warn().Err(err).Str("stream", st.cfg.Name).Msg("closing stream")
		}
	}
	close(s.stop)
}

// Done is closed once every stream, including chained ones, has finished.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Statuses returns a snapshot of every stream in start order.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	streams := append([]*Stream(nil), s.streams...)
	s.mu.Unlock()

	out := make([]Status, 0, len(streams))
	for _, st := range streams {
		out = append(out, st.Status())
	}
	return out
}

// Err returns the errors of streams that ended on a fatal error.
func (s *Scheduler) Err() error {
	var result *multierror.Error
	for _, st := range s.Statuses() {
		if st.State == StateExhausted && IsFatal(st.Err) {
			result = multierror.Append(result, fmt.Errorf("%s: %w", st.Name, st.Err))
		}
	}
	return result.ErrorOrNil()
}
