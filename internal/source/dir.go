// Package source provides tail.Fetcher implementations that read instance
// files from the local filesystem.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/clarabennett2626/cftail/internal/tail"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultMaxChunk caps the bytes returned by a single Fetch.
const DefaultMaxChunk = 1 << 20

// DirOption configures a DirFetcher.
type DirOption func(*DirFetcher)

// WithMaxChunk sets the largest chunk a single fetch returns.
func WithMaxChunk(n int64) DirOption {
	return func(d *DirFetcher) {
		if n > 0 {
			d.maxChunk = n
		}
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(l zerolog.Logger) DirOption {
	return func(d *DirFetcher) { d.logger = l }
}

// DirFetcher reads the files of one application instance from a directory
// laid out as <root>/<app>/<instance>/<path>, the way a local Cloud Foundry
// emulator or the demo writer lays them out. It implements tail.Watcher so
// streams wake up as soon as a file changes.
type DirFetcher struct {
	dir      string
	maxChunk int64
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	subs    map[string][]chan struct{}
	watched map[string]bool
	pending map[string]bool

	done chan struct{}
	once sync.Once
}

// NewDirFetcher returns a fetcher for the given instance under root.
func NewDirFetcher(root, app string, instance int, opts ...DirOption) (*DirFetcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("local root: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("local root %s is not a directory", abs)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	d := &DirFetcher{
		dir:      filepath.Join(abs, app, strconv.Itoa(instance)),
		maxChunk: DefaultMaxChunk,
		logger:   zerolog.Nop(),
		watcher:  watcher,
		subs:     make(map[string][]chan struct{}),
		watched:  make(map[string]bool),
		pending:  make(map[string]bool),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = d.logger.With().Str("component", "source").Str("dir", d.dir).Logger()
	go d.loop()
	return d, nil
}

// Dir returns the instance directory.
func (d *DirFetcher) Dir() string { return d.dir }

// Fetch implements tail.Fetcher.
func (d *DirFetcher) Fetch(_ context.Context, path string, offset int64) (string, error) {
	if _, err := os.Stat(d.dir); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", tail.ErrInstanceNotFound, d.dir)
	}

	full := filepath.Join(d.dir, filepath.FromSlash(path))
	f, err := os.Open(full)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	switch {
	case offset > size:
		// Truncated or replaced underneath us.
		return "", tail.ErrRangeNotSatisfiable
	case offset == size:
		return "", nil
	}

	n := size - offset
	if n > d.maxChunk {
		n = d.maxChunk
	}
	buf, err := io.ReadAll(io.NewSectionReader(f, offset, n))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(buf), nil
}

// Watch implements tail.Watcher. The returned channel receives a value when
// the file at path is written or created.
func (d *DirFetcher) Watch(path string) (<-chan struct{}, func()) {
	full := filepath.Join(d.dir, filepath.FromSlash(path))
	ch := make(chan struct{}, 1)

	d.mu.Lock()
	d.subs[full] = append(d.subs[full], ch)
	d.watchLocked(filepath.Dir(full))
	d.mu.Unlock()

	cancel := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.subs[full]
		for i, c := range subs {
			if c == ch {
				d.subs[full] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(d.subs[full]) == 0 {
			delete(d.subs, full)
		}
	}
	return ch, cancel
}

// watchLocked watches dir, or its closest existing ancestor if dir does not
// exist yet. Callers hold mu.
func (d *DirFetcher) watchLocked(dir string) {
	if d.watched[dir] {
		return
	}
	if err := d.watcher.Add(dir); err == nil {
		d.watched[dir] = true
		delete(d.pending, dir)
		return
	}
	d.pending[dir] = true
	parent := filepath.Dir(dir)
	if parent != dir {
		d.watchLocked(parent)
	}
}

func (d *DirFetcher) loop() {
	defer close(d.done)
	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				d.retryPending()
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.notify(filepath.Clean(event.Name))
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn().Err(err).Msg("watch error")
		}
	}
}

func (d *DirFetcher) retryPending() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for dir := range d.pending {
		d.watchLocked(dir)
	}
}

func (d *DirFetcher) notify(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.subs[path] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close stops watching the filesystem.
func (d *DirFetcher) Close() error {
	var err error
	d.once.Do(func() {
		err = d.watcher.Close()
		<-d.done
	})
	return err
}

var (
	_ tail.Fetcher = (*DirFetcher)(nil)
	_ tail.Watcher = (*DirFetcher)(nil)
)
