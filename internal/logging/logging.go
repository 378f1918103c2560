// Package logging builds the diagnostics logger. Tailed content never goes
// through it.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures a rotating log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// ParseLevel accepts zerolog level names. An empty string means warn.
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.WarnLevel, nil
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parsing log level %q: %w", s, err)
	}
	return lvl, nil
}

// NewConsole logs human-readable lines to w, usually stderr.
func NewConsole(w io.Writer, level string, noColor bool) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	out := zerolog.ConsoleWriter{Out: w, NoColor: noColor, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// NewFile logs JSON lines to a size-rotated file. It is used while a TUI
// owns the terminal. The returned closer releases the file.
func NewFile(opts FileOptions, level string) (zerolog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	if opts.Path == "" {
		return zerolog.Nop(), nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("creating log directory: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), w, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
