package packager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	statusPath        = "/status"
	statusRunningBody = "packager-status:running"
	defaultWorkerPath = "/debugger-ui/debuggerWorker.js"
)

// Client talks to the packager's HTTP surface: reachability probe and
// debugger-worker download. The debugger-proxy WebSocket itself is owned by
// the worker manager.
type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// IsRunning probes the packager status endpoint. Bounded by the client
// timeout and the caller's context.
func (c *Client) IsRunning(ctx context.Context, host string, port int) bool {
	statusURL := fmt.Sprintf("http://%s:%d%s", host, port, statusPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return false
	}
	return strings.Contains(string(body), statusRunningBody)
}

// DownloadDebuggerWorker fetches the debugger-worker payload to dest and
// returns the local path. pathOverride replaces the default URL path when
// non-empty.
func (c *Client) DownloadDebuggerWorker(ctx context.Context, host string, port int, dest, pathOverride string) (string, error) {
	workerPath := defaultWorkerPath
	if pathOverride != "" {
		workerPath = pathOverride
	}
	downloadURL := fmt.Sprintf("http://%s:%d%s", host, port, workerPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download debugger worker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("debugger worker download returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create destination file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write debugger worker: %w", err)
	}
	return dest, nil
}

// DebuggerProxyURL builds the packager debugger-proxy endpoint the worker
// manager connects to as role=debugger.
func DebuggerProxyURL(host string, port int, clientName string) string {
	return fmt.Sprintf("ws://%s:%d/debugger-proxy?role=debugger&name=%s",
		host, port, url.QueryEscape(clientName))
}

// IsExpoProject reports whether the project is the bundler variant whose
// worker payload expects a fetch shim. Best-effort: a missing or malformed
// app.json means no.
func IsExpoProject(projectPath string) bool {
	if projectPath == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(projectPath, "app.json"))
	if err != nil {
		return false
	}
	var appConfig map[string]json.RawMessage
	if err := json.Unmarshal(data, &appConfig); err != nil {
		return false
	}
	_, ok := appConfig["expo"]
	return ok
}
