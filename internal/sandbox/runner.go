package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
)

// ErrStartTimeout is returned when the sandbox never emits its ready marker
// within the bounded startup wait.
var ErrStartTimeout = errors.New("sandbox startup timeout")

// Runner is one execution sandbox lifetime: spawn, exchange JSON-line
// messages, tear down. At most one Runner is live per worker manager.
type Runner interface {
	// Start spawns the sandbox and returns once it signals readiness, or
	// fails with ErrStartTimeout after the bounded wait.
	Start(ctx context.Context) error
	// Post writes a message to the sandbox. Fire-and-forget: messages sent
	// before readiness are queued and flushed when the sandbox is ready.
	Post(msg json.RawMessage)
	// Messages streams sandbox-originated messages.
	Messages() <-chan json.RawMessage
	// Stop requests termination. Best-effort, non-blocking, idempotent.
	Stop()
}

// readyLine is the completion marker the bootstrap script emits once the
// downloaded payload has finished loading.
type readyLine struct {
	Status string `json:"status"`
}

// lineRelay implements the JSON-lines half of a runner: pre-ready queueing,
// ready detection, and delivery of sandbox output.
type lineRelay struct {
	mu       sync.Mutex
	write    func([]byte) error
	started  bool
	pending  [][]byte
	messages chan json.RawMessage
	ready    chan struct{}
	once     sync.Once
}

func newLineRelay(write func([]byte) error) *lineRelay {
	return &lineRelay{
		write:    write,
		messages: make(chan json.RawMessage, 64),
		ready:    make(chan struct{}),
	}
}

// scan consumes sandbox stdout line by line. The first ready marker flips the
// relay to started and flushes the pre-ready queue; every other parseable
// line is delivered. The buffer is enlarged for large payloads.
func (r *lineRelay) scan(src io.Reader) {
	scanner := bufio.NewScanner(src)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if !r.isStarted() {
			var marker readyLine
			if json.Unmarshal(line, &marker) == nil && marker.Status == "ready" {
				r.markReady()
				continue
			}
		}

		msg := make(json.RawMessage, len(line))
		copy(msg, line)
		select {
		case r.messages <- msg:
		default:
			log.Printf("Sandbox message buffer full, dropping message")
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Sandbox scanner error: %v", err)
	}
	close(r.messages)
}

func (r *lineRelay) isStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *lineRelay) markReady() {
	r.mu.Lock()
	r.started = true
	queued := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, msg := range queued {
		if err := r.write(msg); err != nil {
			log.Printf("Failed to flush queued sandbox message: %v", err)
		}
	}
	r.once.Do(func() { close(r.ready) })
}

// post queues before readiness, writes after. Write failures are logged with
// the payload's best-effort text, never surfaced to the caller.
func (r *lineRelay) post(msg json.RawMessage) {
	r.mu.Lock()
	if !r.started {
		queued := make([]byte, len(msg))
		copy(queued, msg)
		r.pending = append(r.pending, queued)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if err := r.write(msg); err != nil {
		log.Printf("Failed to post sandbox message %s: %v", string(msg), err)
	}
}
