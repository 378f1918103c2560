package cfapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/clarabennett2626/cftail/internal/tail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appGUID = "6e7b2f1c-0c1a-4a4e-9a5c-1b2c3d4e5f60"

// fakeController serves a single app whose instance 0 has a stdout log.
type fakeController struct {
	lookups atomic.Int32
	files   map[string]string
	handler func(w http.ResponseWriter, r *http.Request) bool

	mu     sync.Mutex
	ranges []string
}

func (f *fakeController) requestedRanges() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ranges...)
}

func (f *fakeController) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "bearer s3cr3t" {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"code":1000,"description":"Invalid Auth Token","error_code":"CF-InvalidAuthToken"}`)
		return
	}
	if f.handler != nil && f.handler(w, r) {
		return
	}
	if r.URL.Path == "/v2/apps" {
		f.lookups.Add(1)
		if r.URL.Query().Get("q") == "name:web" {
			fmt.Fprintf(w, `{"total_results":1,"resources":[{"metadata":{"guid":%q},"entity":{"name":"web"}}]}`, appGUID)
			return
		}
		fmt.Fprint(w, `{"total_results":0,"resources":[]}`)
		return
	}

	prefix := "/v2/apps/" + appGUID + "/instances/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	idx, path, _ := strings.Cut(rest, "/files/")
	if idx != "0" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"code":220001,"description":"Instances error: Request failed for app: web as the instance %s is not found for instance","error_code":"CF-InstancesError"}`, idx)
		return
	}
	content, ok := f.files[path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"code":10000,"description":"Unknown request","error_code":"CF-NotFound"}`)
		return
	}
	rng := r.Header.Get("Range")
	f.mu.Lock()
	f.ranges = append(f.ranges, rng)
	f.mu.Unlock()
	first, last, _ := strings.Cut(strings.TrimPrefix(rng, "bytes="), "-")
	start, _ := strconv.Atoi(first)
	if start >= len(content) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	end := len(content)
	if n, err := strconv.Atoi(last); err == nil && n+1 < end {
		end = n + 1
	}
	w.WriteHeader(http.StatusPartialContent)
	fmt.Fprint(w, content[start:end])
}

func newTestClient(t *testing.T, fc *fakeController, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(fc)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, append([]Option{WithToken("Bearer s3cr3t")}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://api.example.com")
	assert.Error(t, err)
	_, err = New("://nope")
	assert.Error(t, err)
}

func TestResolveApp_Caches(t *testing.T) {
	fc := &fakeController{}
	c := newTestClient(t, fc)

	for i := 0; i < 3; i++ {
		guid, err := c.ResolveApp(context.Background(), "web")
		require.NoError(t, err)
		assert.Equal(t, appGUID, guid)
	}
	assert.Equal(t, int32(1), fc.lookups.Load())
}

func TestResolveApp_UnknownIsFatal(t *testing.T) {
	c := newTestClient(t, &fakeController{})
	_, err := c.ResolveApp(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAppNotFound)
	assert.Equal(t, tail.ClassFatal, tail.Classify(err))
}

func TestGetFile_ReadsFromOffset(t *testing.T) {
	fc := &fakeController{files: map[string]string{"logs/stdout.log": "hello world\n"}}
	c := newTestClient(t, fc)

	got, err := c.GetFile(context.Background(), "web", 0, "logs/stdout.log", 0)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", got)

	got, err = c.GetFile(context.Background(), "web", 0, "logs/stdout.log", 6)
	require.NoError(t, err)
	assert.Equal(t, "world\n", got)
}

func TestGetFile_ReadsBoundedChunks(t *testing.T) {
	fc := &fakeController{files: map[string]string{"logs/stdout.log": "hello world\n"}}
	c := newTestClient(t, fc, WithMaxChunk(5))

	var got []string
	var offset int64
	for {
		text, err := c.GetFile(context.Background(), "web", 0, "logs/stdout.log", offset)
		if errors.Is(err, tail.ErrRangeNotSatisfiable) {
			break
		}
		require.NoError(t, err)
		got = append(got, text)
		offset += int64(len(text))
	}
	assert.Equal(t, []string{"hello", " worl", "d\n"}, got)
	assert.Equal(t, []string{"bytes=0-4", "bytes=5-9", "bytes=10-14", "bytes=12-16"}, fc.requestedRanges())
}

func TestGetFile_OversizedBodyIsCut(t *testing.T) {
	fc := &fakeController{handler: func(w http.ResponseWriter, r *http.Request) bool {
		if strings.HasSuffix(r.URL.Path, "/files/logs/stdout.log") {
			w.WriteHeader(http.StatusPartialContent)
			fmt.Fprint(w, strings.Repeat("x", 64))
			return true
		}
		return false
	}}
	c := newTestClient(t, fc, WithMaxChunk(8))

	got, err := c.GetFile(context.Background(), "web", 0, "logs/stdout.log", 0)
	require.NoError(t, err)
	assert.Equal(t, "xxxxxxxx", got)
}

func TestGetFile_RecreatedAppIsResolvedAgain(t *testing.T) {
	var guid atomic.Value
	guid.Store("old-guid")
	var lookups atomic.Int32
	fc := &fakeController{handler: func(w http.ResponseWriter, r *http.Request) bool {
		current := guid.Load().(string)
		switch {
		case r.URL.Path == "/v2/apps":
			lookups.Add(1)
			fmt.Fprintf(w, `{"total_results":1,"resources":[{"metadata":{"guid":%q},"entity":{"name":"web"}}]}`, current)
		case strings.HasPrefix(r.URL.Path, "/v2/apps/"+current+"/"):
			w.WriteHeader(http.StatusPartialContent)
			fmt.Fprint(w, current+"\n")
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"code":100004,"description":"The app could not be found: old-guid","error_code":"CF-AppNotFound"}`)
		}
		return true
	}}
	c := newTestClient(t, fc)
	ctx := context.Background()

	got, err := c.GetFile(ctx, "web", 0, "logs/stdout.log", 0)
	require.NoError(t, err)
	assert.Equal(t, "old-guid\n", got)

	// deleted and pushed again under the same name
	guid.Store("new-guid")
	_, err = c.GetFile(ctx, "web", 0, "logs/stdout.log", 0)
	require.Error(t, err)
	assert.Equal(t, tail.ClassRetryable, tail.Classify(err))

	got, err = c.GetFile(ctx, "web", 0, "logs/stdout.log", 0)
	require.NoError(t, err)
	assert.Equal(t, "new-guid\n", got)
	assert.Equal(t, int32(2), lookups.Load())
}

func TestGetFile_RangeNotSatisfiableIsBenign(t *testing.T) {
	fc := &fakeController{files: map[string]string{"logs/stdout.log": "abc"}}
	c := newTestClient(t, fc)

	_, err := c.GetFile(context.Background(), "web", 0, "logs/stdout.log", 3)
	assert.ErrorIs(t, err, tail.ErrRangeNotSatisfiable)
	assert.Equal(t, tail.ClassBenign, tail.Classify(err))
}

func TestGetFile_InstanceNotFoundIsBenign(t *testing.T) {
	c := newTestClient(t, &fakeController{files: map[string]string{}})
	_, err := c.GetFile(context.Background(), "web", 3, "logs/stdout.log", 0)
	assert.ErrorIs(t, err, tail.ErrInstanceNotFound)
	assert.Equal(t, tail.ClassBenign, tail.Classify(err))
}

func TestGetFile_MissingFileIsRetryable(t *testing.T) {
	c := newTestClient(t, &fakeController{files: map[string]string{}})
	_, err := c.GetFile(context.Background(), "web", 0, "logs/staging_task.log", 0)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "CF-NotFound", apiErr.ErrorCode)
	assert.Equal(t, tail.ClassRetryable, tail.Classify(err))
}

func TestGetFile_UnauthorizedIsFatal(t *testing.T) {
	srv := httptest.NewServer(&fakeController{})
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, WithToken("expired"))
	require.NoError(t, err)

	_, err = c.GetFile(context.Background(), "web", 0, "logs/stdout.log", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, tail.ClassFatal, tail.Classify(err))
	assert.Contains(t, err.Error(), "Invalid Auth Token")
}

func TestGetFile_FullBodyIsSliced(t *testing.T) {
	fc := &fakeController{handler: func(w http.ResponseWriter, r *http.Request) bool {
		if strings.HasSuffix(r.URL.Path, "/files/logs/stdout.log") {
			fmt.Fprint(w, "0123456789")
			return true
		}
		return false
	}}
	c := newTestClient(t, fc)

	got, err := c.GetFile(context.Background(), "web", 0, "logs/stdout.log", 4)
	require.NoError(t, err)
	assert.Equal(t, "456789", got)

	got, err = c.GetFile(context.Background(), "web", 0, "logs/stdout.log", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = c.GetFile(context.Background(), "web", 0, "logs/stdout.log", 11)
	assert.ErrorIs(t, err, tail.ErrRangeNotSatisfiable)

	c = newTestClient(t, fc, WithMaxChunk(3))
	got, err = c.GetFile(context.Background(), "web", 0, "logs/stdout.log", 4)
	require.NoError(t, err)
	assert.Equal(t, "456", got)
}

func TestGetFile_PlainTextErrorBody(t *testing.T) {
	fc := &fakeController{handler: func(w http.ResponseWriter, r *http.Request) bool {
		if strings.Contains(r.URL.Path, "/files/") {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "upstream unavailable")
			return true
		}
		return false
	}}
	c := newTestClient(t, fc)

	_, err := c.GetFile(context.Background(), "web", 0, "logs/stdout.log", 0)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream unavailable", apiErr.Description)
	assert.Equal(t, tail.ClassRetryable, tail.Classify(err))
}

func TestFileFetcher(t *testing.T) {
	fc := &fakeController{files: map[string]string{"logs/stderr.log": "boom\n"}}
	f := &FileFetcher{Client: newTestClient(t, fc), App: "web", Instance: 0}

	got, err := f.Fetch(context.Background(), "logs/stderr.log", 0)
	require.NoError(t, err)
	assert.Equal(t, "boom\n", got)
}
