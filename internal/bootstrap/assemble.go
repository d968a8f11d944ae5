package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Downloader fetches the debugger-worker payload from the packager
type Downloader interface {
	DownloadDebuggerWorker(ctx context.Context, host string, port int, dest, pathOverride string) (string, error)
}

// ProjectProbe decides whether a project's worker payload needs the fetch shim
type ProjectProbe func(projectPath string) bool

// Options selects what goes into one assembled bootstrap script
type Options struct {
	SessionID   string
	Host        string
	Port        int
	ProjectPath string
	WorkerPath  string // optional URL path override for the payload download
}

// Assembler composes the bootstrap script: shims, downloaded payload, ready
// marker. Regenerated on a fresh start; reused across socket-reconnect
// retries (the sandbox code does not change between reconnects).
type Assembler struct {
	store      *Store
	downloader Downloader
	needsFetch ProjectProbe
}

func NewAssembler(store *Store, downloader Downloader, needsFetch ProjectProbe) *Assembler {
	return &Assembler{
		store:      store,
		downloader: downloader,
		needsFetch: needsFetch,
	}
}

// Assemble downloads the worker payload and writes the composed script,
// returning its path. Section order is fixed: scope shims, stack-trace
// patch, identity masking, optional fetch shim, payload, ready marker.
func (a *Assembler) Assemble(ctx context.Context, opts Options) (string, error) {
	payloadPath := a.store.PayloadPath(opts.SessionID)
	if _, err := a.downloader.DownloadDebuggerWorker(ctx, opts.Host, opts.Port, payloadPath, opts.WorkerPath); err != nil {
		return "", fmt.Errorf("failed to download debugger worker: %w", err)
	}

	payload, err := os.ReadFile(payloadPath)
	if err != nil {
		return "", fmt.Errorf("failed to read downloaded payload: %w", err)
	}

	var b strings.Builder
	b.WriteString(workerScopeShim)
	b.WriteString(stackTracePatch)
	b.WriteString(processMaskShim)
	if a.needsFetch != nil && a.needsFetch(opts.ProjectPath) {
		b.WriteString(fetchShim)
	}
	b.Write(payload)
	b.WriteString("\n")
	b.WriteString(readyMarker)

	scriptPath := a.store.ScriptPath(opts.SessionID)
	if err := os.WriteFile(scriptPath, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write bootstrap script: %w", err)
	}
	return scriptPath, nil
}

// ScriptPath returns the assembled script location for a session without
// regenerating it. Used on retries.
func (a *Assembler) ScriptPath(sessionID string) string {
	return a.store.ScriptPath(sessionID)
}
