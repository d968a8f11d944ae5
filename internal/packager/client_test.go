package packager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostPort(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status" {
			w.Write([]byte("packager-status:running"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	host, port := hostPort(t, srv)
	c := NewClient()
	assert.True(t, c.IsRunning(context.Background(), host, port))
}

func TestIsRunningWrongBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("something else entirely"))
	}))
	defer srv.Close()

	host, port := hostPort(t, srv)
	c := NewClient()
	assert.False(t, c.IsRunning(context.Background(), host, port))
}

func TestIsRunningUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	host, port := hostPort(t, srv)
	srv.Close()

	c := NewClient()
	assert.False(t, c.IsRunning(context.Background(), host, port))
}

func TestDownloadDebuggerWorker(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("// worker js"))
	}))
	defer srv.Close()

	host, port := hostPort(t, srv)
	dest := filepath.Join(t.TempDir(), "payload.js")

	c := NewClient()
	path, err := c.DownloadDebuggerWorker(context.Background(), host, port, dest, "")
	require.NoError(t, err)
	assert.Equal(t, dest, path)
	assert.Equal(t, "/debugger-ui/debuggerWorker.js", gotPath)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "// worker js", string(data))
}

func TestDownloadDebuggerWorkerPathOverride(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	host, port := hostPort(t, srv)
	dest := filepath.Join(t.TempDir(), "payload.js")

	c := NewClient()
	_, err := c.DownloadDebuggerWorker(context.Background(), host, port, dest, "/custom/worker.js")
	require.NoError(t, err)
	assert.Equal(t, "/custom/worker.js", gotPath)
}

func TestDownloadDebuggerWorkerBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	host, port := hostPort(t, srv)
	c := NewClient()
	_, err := c.DownloadDebuggerWorker(context.Background(), host, port, filepath.Join(t.TempDir(), "p.js"), "")
	assert.ErrorContains(t, err, "status 500")
}

func TestDebuggerProxyURL(t *testing.T) {
	got := DebuggerProxyURL("127.0.0.1", 8081, "metrobridge")
	assert.Equal(t, "ws://127.0.0.1:8081/debugger-proxy?role=debugger&name=metrobridge", got)

	// Client names are query-escaped.
	got = DebuggerProxyURL("localhost", 8081, "my client")
	assert.Equal(t, "ws://localhost:8081/debugger-proxy?role=debugger&name=my+client", got)
}

func TestIsExpoProject(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.json"), []byte(`{"expo":{"name":"demo"}}`), 0644))
	assert.True(t, IsExpoProject(dir))

	plain := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(plain, "app.json"), []byte(`{"name":"demo"}`), 0644))
	assert.False(t, IsExpoProject(plain))

	assert.False(t, IsExpoProject(t.TempDir()), "missing app.json")
	assert.False(t, IsExpoProject(""), "empty project path")

	broken := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(broken, "app.json"), []byte(`{not json`), 0644))
	assert.False(t, IsExpoProject(broken))
}
