package main

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/clarabennett2626/cftail/internal/cfapi"
	"github.com/clarabennett2626/cftail/internal/render"
	"github.com/clarabennett2626/cftail/internal/session"
	"github.com/clarabennett2626/cftail/internal/sink"
	"github.com/clarabennett2626/cftail/internal/source"
	"github.com/clarabennett2626/cftail/internal/tail"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// sessionFlags are shared by tail and watch.
type sessionFlags struct {
	instance int
	running  bool
	labels   bool
	publish  bool
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.instance, "instance", "i", 0, "instance index")
	cmd.Flags().BoolVar(&f.running, "running", false, "skip the staging log and tail stdout and stderr only")
	cmd.Flags().BoolVar(&f.labels, "label", false, "prefix every line with its stream name")
	cmd.Flags().BoolVar(&f.publish, "nats", false, "also publish every chunk to NATS")
}

func (f *sessionFlags) layout() []tail.StreamConfig {
	if f.running {
		return session.RunningLayout()
	}
	return session.StagingLayout()
}

func (a *app) highlighter() *render.Highlighter {
	return render.NewHighlighter(render.ParseTheme(a.cfg.Theme), a.cfg.Plain)
}

// key identifies the instance on the configured server.
func (a *app) key(appName string, instance int) session.Key {
	server := "local:" + a.cfg.LocalDir
	if a.cfg.LocalDir == "" {
		server = a.cfg.API
		if u, err := url.Parse(a.cfg.API); err == nil && u.Host != "" {
			server = u.Host
		}
	}
	return session.Key{Server: server, App: appName, Instance: instance}
}

// fetchers reads local directories when local_dir is set, the Cloud
// Controller otherwise.
func (a *app) fetchers(logger zerolog.Logger) (session.FetcherFactory, error) {
	if dir := a.cfg.LocalDir; dir != "" {
		return func(k session.Key) (tail.Fetcher, error) {
			return source.NewDirFetcher(dir, k.App, k.Instance, source.WithLogger(logger))
		}, nil
	}
	client, err := cfapi.New(a.cfg.API,
		cfapi.WithToken(a.cfg.Token),
		cfapi.WithUserAgent("cftail/"+version),
	)
	if err != nil {
		return nil, err
	}
	return func(k session.Key) (tail.Fetcher, error) {
		return &cfapi.FileFetcher{Client: client, App: k.App, Instance: k.Instance}, nil
	}, nil
}

func (a *app) registry(logger zerolog.Logger, sinks session.SinkFactory) (*session.Registry, error) {
	fetchers, err := a.fetchers(logger)
	if err != nil {
		return nil, err
	}
	return session.NewRegistry(fetchers, sinks,
		session.WithLogger(logger),
		session.WithSchedulerOptions(
			tail.WithInterval(a.cfg.Interval),
			tail.WithMaxInterval(a.cfg.MaxInterval),
			tail.WithFetchTimeout(a.cfg.FetchTimeout),
			tail.WithRetryPolicy(a.cfg.RetryPolicy()),
		),
	), nil
}

// publisher connects to NATS for --nats. The returned func drains the
// connection.
func (a *app) publisher(logger zerolog.Logger) (*sink.NATS, func(), error) {
	if a.cfg.NATS.URL == "" {
		return nil, nil, errors.New("--nats needs nats.url (flag --nats-url or CFTAIL_NATS_URL)")
	}
	conn, err := nats.Connect(a.cfg.NATS.URL,
		nats.Name("cftail"),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Warn().Err(err).Msg("nats error")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to nats: %w", err)
	}
	drain := func() {
		if err := conn.Drain(); err != nil {
			logger.Warn().Err(err).Msg("draining nats connection")
		}
	}
	return sink.NewNATS(conn, a.cfg.NATS.SubjectPrefix), drain, nil
}

// withPublisher tees every stream to NATS when pub is set.
func withPublisher(pub *sink.NATS, open session.SinkFactory) session.SinkFactory {
	if pub == nil {
		return open
	}
	return func(k session.Key, cfg tail.StreamConfig) (tail.Sink, error) {
		s, err := open(k, cfg)
		if err != nil {
			return nil, err
		}
		return sink.Tee(s, pub.Stream(k.App, k.Instance, cfg.Name, cfg.Channel)), nil
	}
}
