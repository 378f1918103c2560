package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clarabennett2626/cftail/internal/tail"
)

func newInstanceDir(t *testing.T) (root, dir string) {
	t.Helper()
	root = t.TempDir()
	dir = filepath.Join(root, "web", "0", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return root, dir
}

func newFetcher(t *testing.T, root string, opts ...DirOption) *DirFetcher {
	t.Helper()
	d, err := NewDirFetcher(root, "web", 0, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func waitWake(t *testing.T, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for change notification")
	}
}

func TestDirFetcher_ReadFromOffset(t *testing.T) {
	root, dir := newInstanceDir(t)
	os.WriteFile(filepath.Join(dir, "stdout.log"), []byte("line1\nline2\n"), 0o644)
	d := newFetcher(t, root)

	got, err := d.Fetch(context.Background(), "logs/stdout.log", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != "line1\nline2\n" {
		t.Errorf("got %q", got)
	}

	got, err = d.Fetch(context.Background(), "logs/stdout.log", 6)
	if err != nil {
		t.Fatal(err)
	}
	if got != "line2\n" {
		t.Errorf("got %q from offset 6", got)
	}
}

func TestDirFetcher_NoNewContent(t *testing.T) {
	root, dir := newInstanceDir(t)
	os.WriteFile(filepath.Join(dir, "stdout.log"), []byte("abc"), 0o644)
	d := newFetcher(t, root)

	got, err := d.Fetch(context.Background(), "logs/stdout.log", 3)
	if err != nil || got != "" {
		t.Fatalf("expected no content, got %q, %v", got, err)
	}
}

func TestDirFetcher_Truncation(t *testing.T) {
	root, dir := newInstanceDir(t)
	os.WriteFile(filepath.Join(dir, "stdout.log"), []byte("ab"), 0o644)
	d := newFetcher(t, root)

	_, err := d.Fetch(context.Background(), "logs/stdout.log", 10)
	if !errors.Is(err, tail.ErrRangeNotSatisfiable) {
		t.Fatalf("expected range error, got %v", err)
	}
	if tail.Classify(err) != tail.ClassBenign {
		t.Error("truncation should be benign")
	}
}

func TestDirFetcher_MissingInstance(t *testing.T) {
	root := t.TempDir()
	d := newFetcher(t, root)

	_, err := d.Fetch(context.Background(), "logs/staging_task.log", 0)
	if !errors.Is(err, tail.ErrInstanceNotFound) {
		t.Fatalf("expected instance-not-found, got %v", err)
	}
}

func TestDirFetcher_MissingFileIsRetryable(t *testing.T) {
	root, _ := newInstanceDir(t)
	d := newFetcher(t, root)

	_, err := d.Fetch(context.Background(), "logs/stderr.log", 0)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if tail.Classify(err) != tail.ClassRetryable {
		t.Errorf("missing file classified as %v", tail.Classify(err))
	}
}

func TestDirFetcher_MaxChunk(t *testing.T) {
	root, dir := newInstanceDir(t)
	os.WriteFile(filepath.Join(dir, "stdout.log"), []byte("0123456789"), 0o644)
	d := newFetcher(t, root, WithMaxChunk(4))

	var offset int64
	var chunks []string
	for i := 0; i < 4; i++ {
		got, err := d.Fetch(context.Background(), "logs/stdout.log", offset)
		if err != nil {
			t.Fatal(err)
		}
		if got == "" {
			break
		}
		chunks = append(chunks, got)
		offset += int64(len(got))
	}
	want := []string{"0123", "4567", "89"}
	if len(chunks) != len(want) {
		t.Fatalf("got chunks %q, want %q", chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestDirFetcher_WatchNotifiesOnWrite(t *testing.T) {
	root, dir := newInstanceDir(t)
	path := filepath.Join(dir, "stdout.log")
	os.WriteFile(path, []byte("initial\n"), 0o644)
	d := newFetcher(t, root)

	ch, cancel := d.Watch("logs/stdout.log")
	defer cancel()

	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	f.WriteString("tailed\n")
	f.Close()

	waitWake(t, ch, 3*time.Second)
}

func TestDirFetcher_WatchBeforeInstanceExists(t *testing.T) {
	root := t.TempDir()
	d := newFetcher(t, root)

	ch, cancel := d.Watch("logs/staging_task.log")
	defer cancel()

	// The instance directory appears one level at a time, like a staging
	// container being set up.
	for _, sub := range []string{"web", "web/0", "web/0/logs"} {
		if err := os.Mkdir(filepath.Join(root, sub), 0o755); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	os.WriteFile(filepath.Join(root, "web", "0", "logs", "staging_task.log"), []byte("-----> Buildpack\n"), 0o644)

	waitWake(t, ch, 3*time.Second)
}

func TestDirFetcher_CancelStopsNotifications(t *testing.T) {
	root, dir := newInstanceDir(t)
	path := filepath.Join(dir, "stdout.log")
	os.WriteFile(path, nil, 0o644)
	d := newFetcher(t, root)

	ch, cancel := d.Watch("logs/stdout.log")
	cancel()

	os.WriteFile(path, []byte("x\n"), 0o644)
	select {
	case <-ch:
		t.Fatal("notified after cancel")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNewDirFetcher_BadRoot(t *testing.T) {
	if _, err := NewDirFetcher("/nonexistent/cftail", "web", 0); err == nil {
		t.Fatal("expected error for missing root")
	}
	file := filepath.Join(t.TempDir(), "file")
	os.WriteFile(file, nil, 0o644)
	if _, err := NewDirFetcher(file, "web", 0); err == nil {
		t.Fatal("expected error for file root")
	}
}

func TestDirFetcher_DrivesScheduler(t *testing.T) {
	root, dir := newInstanceDir(t)
	os.WriteFile(filepath.Join(dir, "stdout.log"), []byte("hello\n"), 0o644)
	d := newFetcher(t, root)

	got := make(chan string, 4)
	sinks := func(tail.StreamConfig) (tail.Sink, error) { return chanSink(got), nil }
	s := tail.NewScheduler(d, sinks, tail.WithInterval(time.Hour))
	if err := s.Start(context.Background(), tail.StreamConfig{Path: "logs/stdout.log"}); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if text := <-got; text != "hello\n" {
		t.Fatalf("first chunk %q", text)
	}

	// Wait for the stream to register its watch before appending.
	time.Sleep(100 * time.Millisecond)
	f, _ := os.OpenFile(filepath.Join(dir, "stdout.log"), os.O_APPEND|os.O_WRONLY, 0o644)
	f.WriteString("world\n")
	f.Close()

	select {
	case text := <-got:
		if text != "world\n" {
			t.Fatalf("second chunk %q", text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not wake the stream")
	}
}

type chanSink chan string

func (c chanSink) Write(text string) error { c <- text; return nil }
func (c chanSink) Close() error           { return nil }
