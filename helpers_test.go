package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copycat/api"
	"copycat/cmd"
	"copycat/config"
	"copycat/types"
)

const testToken = "test-token"

// TestHelper runs a development server with temporary roots
type TestHelper struct {
	Server *httptest.Server
	App    *cmd.Server
	Config *config.Config
	Client *api.Client
	cancel context.CancelFunc
}

// NewTestHelper starts a server. Cleanup is registered with t.
func NewTestHelper(t *testing.T) *TestHelper {
	t.Helper()
	gin.SetMode(gin.TestMode)

	base := t.TempDir()
	cfg := &config.Config{
		Token:    testToken,
		LogLevel: "error",
		CacheTTL: time.Minute,
		Stream: config.StreamConfig{
			ReconnectDelay:   50 * time.Millisecond,
			GraceDelay:       10 * time.Millisecond,
			HandshakeTimeout: time.Second,
		},
		Server: config.ServerConfig{
			SourceRoot:      filepath.Join(base, "source"),
			DestinationRoot: filepath.Join(base, "destination"),
			Workers:         1,
			GinMode:         gin.TestMode,
		},
	}

	app, err := cmd.NewServer(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	app.Start(ctx)
	server := httptest.NewServer(app.Router)
	cfg.APIBase = server.URL

	client, err := api.New(api.Options{BaseURL: server.URL, Token: testToken, CacheTTL: cfg.CacheTTL})
	require.NoError(t, err)

	h := &TestHelper{
		Server: server,
		App:    app,
		Config: cfg,
		Client: client,
		cancel: cancel,
	}
	t.Cleanup(h.Cleanup)
	return h
}

// Cleanup stops the workers and the server
func (h *TestHelper) Cleanup() {
	h.cancel()
	h.Server.Close()
}

// MakeRequest sends an authenticated request with an optional JSON body
func (h *TestHelper) MakeRequest(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, h.Server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// DoJSON sends a request and decodes the response body into target
func (h *TestHelper) DoJSON(t *testing.T, method, path string, body, target any) *http.Response {
	t.Helper()

	resp := h.MakeRequest(t, method, path, body)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if target != nil {
		require.NoError(t, json.Unmarshal(data, target), string(data))
	}
	return resp
}

// CreateSourceFile writes size bytes below the source root
func (h *TestHelper) CreateSourceFile(t *testing.T, relativePath string, size int) {
	t.Helper()
	fullPath := filepath.Join(h.Config.Server.SourceRoot, filepath.FromSlash(relativePath))
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
	require.NoError(t, os.WriteFile(fullPath, bytes.Repeat([]byte("c"), size), 0o644))
}

// DestinationPath returns the absolute path of a destination entry
func (h *TestHelper) DestinationPath(relativePath string) string {
	return filepath.Join(h.Config.Server.DestinationRoot, filepath.FromSlash(relativePath))
}

// WaitForStatus polls the job until it reaches status
func (h *TestHelper) WaitForStatus(t *testing.T, id int64, status types.JobStatus) types.CopyJob {
	t.Helper()

	var job types.CopyJob
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = h.App.Queue.GetJob(id)
		return ok && job.Status == status
	}, 10*time.Second, 10*time.Millisecond, "job %d never reached %s", id, status)
	return job
}

// RunCLI executes a copycat command against the test server and returns
// its output
func (h *TestHelper) RunCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	var out bytes.Buffer
	root := cmd.NewRootCmd(&out)
	root.SetArgs(append([]string{"--api-base", h.Server.URL, "--token", testToken, "--log-level", "error"}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func assertLines(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		assert.True(t, strings.Contains(out, w), "output misses %q:\n%s", w, out)
	}
}
