package main

import (
	"fmt"

	"github.com/clarabennett2626/cftail/internal/logging"
	"github.com/clarabennett2626/cftail/internal/session"
	"github.com/clarabennett2626/cftail/internal/sink"
	"github.com/clarabennett2626/cftail/internal/tail"
	"github.com/spf13/cobra"
)

func newTailCmd(a *app) *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "tail APP",
		Short: "Print the logs of an application instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTail(cmd, args[0], flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *app) runTail(cmd *cobra.Command, appName string, flags sessionFlags) error {
	if err := a.load(); err != nil {
		return err
	}
	logger, err := logging.NewConsole(cmd.ErrOrStderr(), a.cfg.Log.Level, a.cfg.Plain)
	if err != nil {
		return err
	}

	console := sink.NewConsole(cmd.OutOrStdout(),
		sink.WithHighlighter(a.highlighter()),
		sink.WithLabels(flags.labels),
	)
	open := func(_ session.Key, cfg tail.StreamConfig) (tail.Sink, error) {
		return console.Stream(cfg.Name, cfg.Channel), nil
	}
	if flags.publish {
		pub, drain, err := a.publisher(logger)
		if err != nil {
			return err
		}
		defer drain()
		open = withPublisher(pub, open)
	}

	reg, err := a.registry(logger, open)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	s, err := reg.Start(ctx, a.key(appName, flags.instance), flags.layout())
	if err != nil {
		return err
	}

	select {
	case <-s.Done():
	case <-ctx.Done():
		// In-flight fetches are not waited for; their results are dropped.
		reg.StopAll()
		return nil
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("tailing %s: %w", appName, err)
	}
	return nil
}
