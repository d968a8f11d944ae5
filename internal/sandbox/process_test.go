package sandbox

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoRunner stands in for a node sandbox: it prints the ready marker and
// then echoes every stdin line back to stdout.
func echoRunner() *ProcessRunner {
	return &ProcessRunner{
		Path:         "/bin/sh",
		Args:         []string{"-c", `echo '{"status":"ready"}'; while read line; do echo "$line"; done`},
		ReadyTimeout: 5 * time.Second,
	}
}

func TestProcessRunnerReadyAndEcho(t *testing.T) {
	p := echoRunner()
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	p.Post(json.RawMessage(`{"method":"ping","id":1}`))

	select {
	case got := <-p.Messages():
		assert.JSONEq(t, `{"method":"ping","id":1}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no echo from sandbox")
	}
}

func TestProcessRunnerQueuesBeforeReady(t *testing.T) {
	// The marker is delayed past the Post, so the message has to be queued
	// and flushed on readiness.
	p := &ProcessRunner{
		Path:         "/bin/sh",
		Args:         []string{"-c", `sleep 0.2; echo '{"status":"ready"}'; while read line; do echo "$line"; done`},
		ReadyTimeout: 5 * time.Second,
	}

	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()

	// Give the process a moment to spawn, then post before readiness.
	time.Sleep(50 * time.Millisecond)
	p.Post(json.RawMessage(`{"queued":true}`))

	require.NoError(t, <-done)
	defer p.Stop()

	select {
	case got := <-p.Messages():
		assert.JSONEq(t, `{"queued":true}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("queued message was not flushed")
	}
}

func TestProcessRunnerStartTimeout(t *testing.T) {
	p := &ProcessRunner{
		Path:         "/bin/sh",
		Args:         []string{"-c", "sleep 10"},
		ReadyTimeout: 100 * time.Millisecond,
	}

	err := p.Start(context.Background())
	assert.ErrorIs(t, err, ErrStartTimeout)
}

func TestProcessRunnerStartCancelled(t *testing.T) {
	p := &ProcessRunner{
		Path:         "/bin/sh",
		Args:         []string{"-c", "sleep 10"},
		ReadyTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := p.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessRunnerStopIdempotent(t *testing.T) {
	p := echoRunner()
	require.NoError(t, p.Start(context.Background()))

	p.Stop()
	p.Stop()

	// The output channel drains and closes once the process dies.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-p.Messages():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPostBeforeStartDropped(t *testing.T) {
	p := NewProcessRunner("node", "/tmp/never-started.js")
	p.Post(json.RawMessage(`{"early":true}`)) // logged, not a panic

	select {
	case _, ok := <-p.Messages():
		assert.False(t, ok, "channel from an unstarted runner should be closed")
	default:
		t.Fatal("Messages on an unstarted runner should not block")
	}
}

type relayWriter struct {
	lines [][]byte
}

func (w *relayWriter) write(msg []byte) error {
	line := make([]byte, len(msg))
	copy(line, msg)
	w.lines = append(w.lines, line)
	return nil
}

func TestLineRelayPreReadyQueue(t *testing.T) {
	w := &relayWriter{}
	r := newLineRelay(w.write)

	r.post(json.RawMessage(`{"n":1}`))
	r.post(json.RawMessage(`{"n":2}`))
	assert.Empty(t, w.lines, "messages written before readiness")

	r.markReady()
	require.Len(t, w.lines, 2)
	assert.JSONEq(t, `{"n":1}`, string(w.lines[0]))
	assert.JSONEq(t, `{"n":2}`, string(w.lines[1]))

	r.post(json.RawMessage(`{"n":3}`))
	require.Len(t, w.lines, 3)
}

func TestLineRelayScanReadyMarkerNotDelivered(t *testing.T) {
	w := &relayWriter{}
	r := newLineRelay(w.write)

	pr, pw := io.Pipe()
	go r.scan(pr)

	pw.Write([]byte(`{"status":"ready"}` + "\n"))
	pw.Write([]byte(`{"method":"out"}` + "\n"))
	pw.Close()

	select {
	case <-r.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("ready marker was not detected")
	}

	got, ok := <-r.messages
	require.True(t, ok)
	assert.JSONEq(t, `{"method":"out"}`, string(got))

	_, ok = <-r.messages
	assert.False(t, ok, "channel should close at EOF")
}
