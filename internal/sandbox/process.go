package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"
)

const defaultReadyTimeout = 10 * time.Second

// ProcessRunner executes the bootstrap script in a local node process and
// exchanges JSON-line messages over its stdio.
type ProcessRunner struct {
	Path         string
	Args         []string
	ReadyTimeout time.Duration

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	relay    *lineRelay
	writeMu  sync.Mutex
	stopOnce sync.Once
}

// NewProcessRunner builds a runner that executes scriptPath with the node
// binary at nodePath.
func NewProcessRunner(nodePath, scriptPath string) *ProcessRunner {
	return &ProcessRunner{
		Path:         nodePath,
		Args:         []string{scriptPath},
		ReadyTimeout: defaultReadyTimeout,
	}
}

// Start spawns the sandbox process and waits for the ready marker
func (p *ProcessRunner) Start(ctx context.Context) error {
	if p.ReadyTimeout == 0 {
		p.ReadyTimeout = defaultReadyTimeout
	}

	cmd := exec.Command(p.Path, p.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe failed: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe failed: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe failed: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start sandbox: %w", err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.relay = newLineRelay(p.writeLine)

	go p.relay.scan(stdout)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Printf("SANDBOX ERR: %s", scanner.Text())
		}
	}()

	select {
	case <-p.relay.ready:
		return nil
	case <-ctx.Done():
		p.Stop()
		return ctx.Err()
	case <-time.After(p.ReadyTimeout):
		p.Stop()
		return fmt.Errorf("%w after %s", ErrStartTimeout, p.ReadyTimeout)
	}
}

func (p *ProcessRunner) writeLine(msg []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err := p.stdin.Write(append(msg, '\n'))
	return err
}

// Post writes a message to the sandbox's inbound channel, queueing it if the
// sandbox has not signalled readiness yet.
func (p *ProcessRunner) Post(msg json.RawMessage) {
	if p.relay == nil {
		log.Printf("Dropping sandbox message before start: %s", string(msg))
		return
	}
	p.relay.post(msg)
}

// Messages streams sandbox-originated messages
func (p *ProcessRunner) Messages() <-chan json.RawMessage {
	if p.relay == nil {
		ch := make(chan json.RawMessage)
		close(ch)
		return ch
	}
	return p.relay.messages
}

// Stop terminates the sandbox process. Best-effort: it does not block on the
// process exit, and repeated calls are no-ops.
func (p *ProcessRunner) Stop() {
	p.stopOnce.Do(func() {
		if p.stdin != nil {
			p.stdin.Close()
		}
		if p.cmd != nil && p.cmd.Process != nil {
			p.cmd.Process.Kill()
			go p.cmd.Wait()
		}
	})
}
