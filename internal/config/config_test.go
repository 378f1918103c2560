package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clarabennett2626/cftail/internal/tail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "api: https://api.example.com\n")
	c, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", c.API)
	assert.Equal(t, tail.DefaultInterval, c.Interval)
	assert.Zero(t, c.MaxInterval)
	assert.Equal(t, tail.DefaultMaxAttempts, c.MaxAttempts)
	assert.Equal(t, tail.DefaultMessageEvery, c.RetryEvery)
	assert.Equal(t, tail.DefaultFetchTimeout, c.FetchTimeout)
	assert.Equal(t, "dark", c.Theme)
	assert.Equal(t, "cftail", c.NATS.SubjectPrefix)
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, 10, c.Log.MaxSizeMB)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
local_dir: /tmp/instances
interval: 250ms
max_interval: 2s
max_attempts: 40
theme: light
nats:
  url: nats://127.0.0.1:4222
  subject_prefix: logs
log:
  level: debug
`)
	c, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/instances", c.LocalDir)
	assert.Equal(t, 250*time.Millisecond, c.Interval)
	assert.Equal(t, 2*time.Second, c.MaxInterval)
	assert.Equal(t, 40, c.MaxAttempts)
	assert.Equal(t, "light", c.Theme)
	assert.Equal(t, "nats://127.0.0.1:4222", c.NATS.URL)
	assert.Equal(t, "logs", c.NATS.SubjectPrefix)
	assert.Equal(t, "debug", c.Log.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "api: https://api.example.com\nmax_attempts: 40\n")
	t.Setenv("CFTAIL_MAX_ATTEMPTS", "5")
	t.Setenv("CFTAIL_TOKEN", "secret")
	t.Setenv("CFTAIL_NATS_SUBJECT_PREFIX", "env")

	c, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, 5, c.MaxAttempts)
	assert.Equal(t, "secret", c.Token)
	assert.Equal(t, "env", c.NATS.SubjectPrefix)
}

func TestLoad_MissingDefaultFileIsFine(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CFTAIL_LOCAL_DIR", "/tmp/instances")

	c, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/instances", c.LocalDir)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "reading config")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"no api or local dir", "theme: dark\n", "api"},
		{"bad api url", "api: not a url\n", "api"},
		{"bad theme", "local_dir: /x\ntheme: neon\n", "theme"},
		{"max interval below interval", "local_dir: /x\ninterval: 5s\nmax_interval: 1s\n", "max_interval"},
		{"zero attempts", "local_dir: /x\nmax_attempts: 0\n", "max_attempts"},
		{"bad log level", "local_dir: /x\nlog:\n  level: loud\n", "level"},
		{"bad nats url", "local_dir: /x\nnats:\n  url: '::'\n", "url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(New(), writeConfig(t, tt.body))
			require.Error(t, err)
			assert.ErrorContains(t, err, "invalid config")
			assert.ErrorContains(t, err, tt.field)
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	c := &Config{MaxAttempts: 7, RetryEvery: 2}
	p := c.RetryPolicy()
	assert.Equal(t, 7, p.MaxAttempts)
	assert.Equal(t, "", p.Retry("web", 1, 7))
	assert.Equal(t, "Waiting for web... (2 of 7 attempts)\n", p.Retry("web", 2, 7))
}

func TestYAMLRedactsToken(t *testing.T) {
	c := Config{API: "https://api.example.com", Token: "secret", Interval: 5 * time.Second}
	out, err := c.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "secret")
	assert.Equal(t, "secret", c.Token, "receiver is not modified")

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, "<redacted>", back["token"])
	assert.Equal(t, "5s", back["interval"])
}
