// Package session keeps one tailing session per application instance.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/clarabennett2626/cftail/internal/tail"
	"github.com/rs/zerolog"
)

// Key identifies an application instance on a server.
type Key struct {
	Server   string
	App      string
	Instance int
}

func (k Key) String() string {
	return k.Server + "/" + k.App + "/" + strconv.Itoa(k.Instance)
}

// FetcherFactory returns the fetcher for an instance. A fetcher that also
// implements io.Closer is closed when its session ends.
type FetcherFactory func(key Key) (tail.Fetcher, error)

// SinkFactory opens the sink of one stream of an instance.
type SinkFactory func(key Key, cfg tail.StreamConfig) (tail.Sink, error)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the diagnostics logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithSchedulerOptions applies opts to the scheduler of every new session.
func WithSchedulerOptions(opts ...tail.Option) Option {
	return func(r *Registry) { r.schedOpts = append(r.schedOpts, opts...) }
}

// Session is the running console of one instance.
type Session struct {
	key    Key
	sched  *tail.Scheduler
	closer io.Closer
}

// Key returns the instance the session tails.
func (s *Session) Key() Key { return s.key }

// Done is closed once every stream of the session finished.
func (s *Session) Done() <-chan struct{} { return s.sched.Done() }

// Statuses returns the state of every stream in start order.
func (s *Session) Statuses() []tail.Status { return s.sched.Statuses() }

// Err joins the fatal errors of the session's streams.
func (s *Session) Err() error { return s.sched.Err() }

func (s *Session) live() bool {
	select {
	case <-s.sched.Done():
		return false
	default:
		return true
	}
}

// Registry maps instances to their sessions. At most one live session
// exists per key.
type Registry struct {
	fetchers  FetcherFactory
	sinks     SinkFactory
	schedOpts []tail.Option
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[Key]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry(fetchers FetcherFactory, sinks SinkFactory, opts ...Option) *Registry {
	r := &Registry{
		fetchers: fetchers,
		sinks:    sinks,
		logger:   zerolog.Nop(),
		sessions: make(map[Key]*Session),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With().Str("component", "session").Logger()
	return r
}

// Start returns the live session for key, or starts a new one tailing cfgs.
func (r *Registry) Start(ctx context.Context, key Key, cfgs []tail.StreamConfig) (*Session, error) {
	if len(cfgs) == 0 {
		return nil, errors.New("no streams to tail")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok && s.live() {
		return s, nil
	}

	fetcher, err := r.fetchers(key)
	if err != nil {
		return nil, fmt.Errorf("creating fetcher for %s: %w", key, err)
	}
	opts := append([]tail.Option{tail.WithLogger(r.logger.With().Str("session", key.String()).Logger())}, r.schedOpts...)
	sched := tail.NewScheduler(fetcher, func(cfg tail.StreamConfig) (tail.Sink, error) {
		return r.sinks(key, cfg)
	}, opts...)

	s := &Session{key: key, sched: sched}
	if c, ok := fetcher.(io.Closer); ok {
		s.closer = c
	}
	if err := sched.Start(ctx, cfgs...); err != nil {
		s.close(r.logger)
		return nil, fmt.Errorf("starting session %s: %w", key, err)
	}
	r.sessions[key] = s
	go r.reap(s)

	r.logger.Info().Str("session", key.String()).Int("streams", len(cfgs)).Msg("session started")
	return s, nil
}

// reap removes s once all of its streams finished.
func (r *Registry) reap(s *Session) {
	<-s.Done()
	r.mu.Lock()
	if r.sessions[s.key] == s {
		delete(r.sessions, s.key)
	}
	r.mu.Unlock()
	s.close(r.logger)
	r.logger.Info().Str("session", s.key.String()).Msg("session finished")
}

func (s *Session) close(logger zerolog.Logger) {
	if s.closer == nil {
		return
	}
	if err := s.closer.Close(); err != nil {
		logger.Warn().Err(err).Str("session", s.key.String()).Msg("closing fetcher")
	}
}

// Stop deactivates and removes the session for key. It reports whether a
// session was found.
func (r *Registry) Stop(key Key) bool {
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.sched.Stop()
	return true
}

// RemoveApp stops every instance session of app on server, e.g. after the
// application was deleted. It returns the number of sessions stopped.
func (r *Registry) RemoveApp(server, app string) int {
	r.mu.Lock()
	var victims []*Session
	for k, s := range r.sessions {
		if k.Server == server && k.App == app {
			victims = append(victims, s)
			delete(r.sessions, k)
		}
	}
	r.mu.Unlock()

	for _, s := range victims {
		s.sched.Stop()
	}
	if len(victims) > 0 {
		r.logger.Info().Str("server", server).Str("app", app).Int("sessions", len(victims)).Msg("app removed")
	}
	return len(victims)
}

// Lookup returns the session for key, if any.
func (r *Registry) Lookup(key Key) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Keys returns the keys of all registered sessions, sorted.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Server != b.Server {
			return a.Server < b.Server
		}
		if a.App != b.App {
			return a.App < b.App
		}
		return a.Instance < b.Instance
	})
	return keys
}

// StopAll stops every session.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for k, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, k)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.sched.Stop()
	}
}
