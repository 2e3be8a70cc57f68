package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/scottbass3/regscan/internal/pager"
	"github.com/scottbass3/regscan/internal/registry"
	"github.com/scottbass3/regscan/internal/scan"
)

func newRegistryFixture(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v2/_catalog":
			if r.URL.Query().Get("last") == "" {
				w.Header().Set("Link", `</v2/_catalog?last=team%2Fapi&n=1>; rel="next"`)
				fmt.Fprint(w, `{"repositories":["team/api"]}`)
				return
			}
			fmt.Fprint(w, `{"repositories":["team/web"]}`)
		case "/v2/team/api/tags/list":
			fmt.Fprint(w, `{"name":"team/api","tags":["v1","latest"]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"errors":[{"code":"NAME_UNKNOWN","message":"repository name not known to registry"}]}`)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("page_size: 1\nlog:\n  level: error\n"), 0o600))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestImagesCommandJSON(t *testing.T) {
	server := newRegistryFixture(t)

	out, err := runCLI(t, "--registry", server.URL, "--output", "json", "images")
	require.NoError(t, err)

	var images []string
	require.NoError(t, json.Unmarshal([]byte(out), &images))
	assert.Equal(t, []string{"team/api", "team/web"}, images)
}

func TestTagsCommandTable(t *testing.T) {
	server := newRegistryFixture(t)

	out, err := runCLI(t, "--registry", server.URL, "tags", "team/api")
	require.NoError(t, err)

	host := strings.TrimPrefix(server.URL, "http://")
	assert.Contains(t, out, host+"/team/api:latest")
	assert.Contains(t, out, "2 tags")
}

func TestUnknownOutputIsRejected(t *testing.T) {
	_, err := runCLI(t, "--registry", "registry.example.com", "--output", "yaml", "images")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output")
}

func TestCollectReportsResumeCursor(t *testing.T) {
	failure := errors.New("boom")
	fetch := pager.FetchFunc[string](func(_ context.Context, req pager.Request) (pager.Page[string], error) {
		if req.Cursor == "" {
			return pager.Page[string]{Items: []string{"a", "b"}, Next: "b"}, nil
		}
		return pager.Page[string]{}, failure
	})

	items, err := collect(context.Background(), pager.New(fetch), 0)
	require.ErrorIs(t, err, failure)
	assert.Contains(t, err.Error(), `--resume "b"`)
	assert.Equal(t, []string{"a", "b"}, items)

	items, err = collect(context.Background(), pager.New(fetch), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, items)
}

func TestRenderReportSortsByUniqueSize(t *testing.T) {
	report := &scan.Report{
		Images: []scan.ImageReport{
			{Name: "small", Tags: 1, Blobs: 1, Size: 10, UniqueSize: 10},
			{Name: "large", Tags: 2, Blobs: 3, Size: 4096, UniqueSize: 2048},
		},
		Blobs:     4,
		TotalSize: 4106,
		Duration:  1500 * time.Millisecond,
	}

	var out bytes.Buffer
	renderReport(&out, report, 0)
	rendered := out.String()
	assert.Less(t, strings.Index(rendered, "large"), strings.Index(rendered, "small"))
	assert.Contains(t, rendered, "2.0 KB")
	assert.Contains(t, rendered, "2 images")
	assert.Contains(t, rendered, "1.5s")

	out.Reset()
	renderReport(&out, report, 1)
	assert.NotContains(t, out.String(), "small")
}

func TestFormatRequestLog(t *testing.T) {
	entry := formatRequestLog(registry.RequestLog{
		Method:   http.MethodGet,
		URL:      "https://registry.example.com/v2/_catalog?n=100",
		Status:   http.StatusOK,
		Duration: 12 * time.Millisecond,
		Headers: map[string][]string{
			"Authorization": {"<redacted>"},
			"Accept":        {"application/json"},
		},
	})
	assert.Equal(t, "GET https://registry.example.com/v2/_catalog?n=100 -> 200 (12ms) | Accept: application/json; Authorization: <redacted>", entry)

	entry = formatRequestLog(registry.RequestLog{Method: http.MethodHead, URL: "https://r/v2/x/blobs/y", Err: errors.New("dial tcp: refused")})
	assert.Equal(t, "HEAD https://r/v2/x/blobs/y -> error: dial tcp: refused", entry)
}

func TestRequestLoggerDropsWhenFull(t *testing.T) {
	ch := make(chan string, 1)
	logger := makeRequestLogger(ch)
	logger(registry.RequestLog{Method: http.MethodGet, URL: "a"})
	logger(registry.RequestLog{Method: http.MethodGet, URL: "b"})
	require.Len(t, ch, 1)
	assert.Equal(t, "GET a", <-ch)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("warn", false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = newLogger("warn", true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = newLogger("loud", false)
	require.Error(t, err)
}

func TestContextCommands(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	run := func(args ...string) (string, error) {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(append([]string{"--config", configPath}, args...))
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := run("context", "add", "prod", "registry.example.com", "--kind", "basic", "--username", "robot", "--password", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "Added context prod")

	_, err = run("context", "add", "hub", "registry-1.docker.io", "--kind", "bearer", "--service", "registry.docker.io")
	require.NoError(t, err)

	out, err = run("context", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "registry-1.docker.io")
	assert.NotContains(t, out, "secret")

	_, err = run("context", "use", "hub")
	require.NoError(t, err)
	out, err = run("--output", "json", "context", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "secret")

	_, err = run("context", "remove", "prod")
	require.NoError(t, err)
	_, err = run("context", "remove", "prod")
	require.Error(t, err)
}
