// Package cfapi reads application instance files from a Cloud Foundry
// Cloud Controller (v2 API).
package cfapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/clarabennett2626/cftail/internal/tail"
	"github.com/goccy/go-json"
)

// DefaultMaxChunk bounds the bytes read by one GetFile call.
const DefaultMaxChunk int64 = 1 << 20

var (
	// ErrAppNotFound means no application with the requested name is visible
	// to the current user.
	ErrAppNotFound = errors.New("application not found")
	// ErrUnauthorized means the token was rejected.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a Cloud Controller error response.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        int    `json:"code"`
	ErrorCode   string `json:"error_code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("cloud controller returned %d", e.StatusCode)
	}
	if e.ErrorCode == "" {
		return fmt.Sprintf("cloud controller returned %d: %s", e.StatusCode, e.Description)
	}
	return fmt.Sprintf("cloud controller returned %d (%s): %s", e.StatusCode, e.ErrorCode, e.Description)
}

// appMissing reports whether the application GUID is no longer known, e.g.
// because the app was deleted and pushed again under the same name.
func (e *APIError) appMissing() bool {
	return e.ErrorCode == "CF-AppNotFound" || e.Code == 100004
}

// instanceMissing reports whether the error says the instance does not
// exist (yet).
func (e *APIError) instanceMissing() bool {
	switch e.ErrorCode {
	case "CF-InstancesError", "CF-InstancesUnavailable":
		return true
	}
	if e.Code == 220001 {
		return true
	}
	d := strings.ToLower(e.Description)
	return strings.Contains(d, "not found for instance") || strings.Contains(d, "instance is not found")
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		token = strings.TrimSpace(token)
		if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
			token = token[7:]
		}
		c.token = token
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithMaxChunk bounds the bytes read by one GetFile call. Larger files are
// read over several calls.
func WithMaxChunk(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxChunk = n
		}
	}
}

// Client talks to a Cloud Controller.
type Client struct {
	base      *url.URL
	token     string
	userAgent string
	maxChunk  int64
	http      *http.Client

	mu    sync.Mutex
	guids map[string]string
}

// New returns a client for the Cloud Controller at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url %q must be http or https", baseURL)
	}
	c := &Client{
		base:      u,
		userAgent: "cftail",
		maxChunk:  DefaultMaxChunk,
		http:      &http.Client{Timeout: 60 * time.Second},
		guids:     make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type appList struct {
	TotalResults int `json:"total_results"`
	Resources    []struct {
		Metadata struct {
			GUID string `json:"guid"`
		} `json:"metadata"`
		Entity struct {
			Name string `json:"name"`
		} `json:"entity"`
	} `json:"resources"`
}

// ResolveApp returns the GUID of the named application. Results are cached
// for the lifetime of the client.
func (c *Client) ResolveApp(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	guid, ok := c.guids[name]
	c.mu.Unlock()
	if ok {
		return guid, nil
	}

	q := url.Values{"q": {"name:" + name}}
	req, err := c.newRequest(ctx, "/v2/apps", q)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("looking up app %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp)
	}

	var list appList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", fmt.Errorf("decoding app list: %w", err)
	}
	for _, r := range list.Resources {
		if r.Entity.Name == name && r.Metadata.GUID != "" {
			c.mu.Lock()
			c.guids[name] = r.Metadata.GUID
			c.mu.Unlock()
			return r.Metadata.GUID, nil
		}
	}
	return "", tail.Fatal(fmt.Errorf("%w: %s", ErrAppNotFound, name))
}

// forgetGUID drops the cached GUID of name if it is still guid.
func (c *Client) forgetGUID(name, guid string) {
	c.mu.Lock()
	if c.guids[name] == guid {
		delete(c.guids, name)
	}
	c.mu.Unlock()
}

// GetFile returns at most the configured chunk of path on the given instance
// starting at offset. It returns "" when the file has not grown past offset.
// A stale application GUID is dropped so that the next call resolves the app
// again.
func (c *Client) GetFile(ctx context.Context, app string, instance int, path string, offset int64) (string, error) {
	guid, err := c.ResolveApp(ctx, app)
	if err != nil {
		return "", err
	}

	p := fmt.Sprintf("/v2/apps/%s/instances/%d/files/%s",
		url.PathEscape(guid), instance, strings.TrimLeft(path, "/"))
	req, err := c.newRequest(ctx, p, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-"+strconv.FormatInt(offset+c.maxChunk-1, 10))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxChunk))
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return string(body), nil
	case http.StatusOK:
		// The server ignored Range and sent the whole file.
		body, err := io.ReadAll(io.LimitReader(resp.Body, offset+c.maxChunk))
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		if int64(len(body)) < offset {
			return "", tail.ErrRangeNotSatisfiable
		}
		return string(body[offset:]), nil
	case http.StatusRequestedRangeNotSatisfiable:
		return "", tail.ErrRangeNotSatisfiable
	default:
		err := c.statusError(resp)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.appMissing() {
			c.forgetGUID(app, guid)
		}
		return "", err
	}
}

func (c *Client) newRequest(ctx context.Context, path string, q url.Values) (*http.Request, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "bearer "+c.token)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// statusError maps a non-success response onto the tail error taxonomy.
func (c *Client) statusError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(body) > 0 {
		if err := json.Unmarshal(body, apiErr); err != nil {
			apiErr.Description = strings.TrimSpace(string(body))
		}
		apiErr.StatusCode = resp.StatusCode
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return tail.Fatal(fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Error()))
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return tail.ErrRangeNotSatisfiable
	case apiErr.instanceMissing():
		return fmt.Errorf("%w: %s", tail.ErrInstanceNotFound, apiErr.Error())
	default:
		return apiErr
	}
}

// FileFetcher reads the files of one application instance.
type FileFetcher struct {
	Client   *Client
	App      string
	Instance int
}

// Fetch implements tail.Fetcher.
func (f *FileFetcher) Fetch(ctx context.Context, path string, offset int64) (string, error) {
	return f.Client.GetFile(ctx, f.App, f.Instance, path, offset)
}

var _ tail.Fetcher = (*FileFetcher)(nil)
