package main

import (
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/clarabennett2626/cftail/internal/logging"
	"github.com/clarabennett2626/cftail/internal/session"
	"github.com/clarabennett2626/cftail/internal/tail"
	"github.com/clarabennett2626/cftail/internal/tui"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "watch APP",
		Short: "Follow the logs of an application instance in a full-screen console",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd, args[0], flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *app) runWatch(cmd *cobra.Command, appName string, flags sessionFlags) error {
	if err := a.load(); err != nil {
		return err
	}
	// The terminal belongs to the TUI, so diagnostics only go to the file.
	logger, closer, err := logging.NewFile(logging.FileOptions{
		Path:       a.cfg.Log.File,
		MaxSizeMB:  a.cfg.Log.MaxSizeMB,
		MaxBackups: a.cfg.Log.MaxBackups,
	}, a.cfg.Log.Level)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := cmd.Context()
	key := a.key(appName, flags.instance)
	model := tui.NewModel(fmt.Sprintf("cftail %s #%d", appName, flags.instance), a.highlighter(), flags.labels)
	p := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)

	open := func(_ session.Key, cfg tail.StreamConfig) (tail.Sink, error) {
		return tui.NewProgramSink(p, cfg), nil
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
	defer reg.StopAll()

	s, err := reg.Start(ctx, key, flags.layout())
	if err != nil {
		return err
	}
	go tui.Follow(ctx, p, s, time.Second)

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running console: %w", err)
	}
	select {
	case <-s.Done():
		return s.Err()
	default:
		return nil
	}
}
