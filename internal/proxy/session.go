package proxy

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/metrobridge/metrobridge/internal/cdp"
)

// State is the lifecycle phase of one proxy session
type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

const teardownTimeout = 5 * time.Second

// Session is one end-to-end pairing between a debug client connection and a
// target runtime connection. It owns the correlation table and the
// breakpoint coordinate mapping for the pairing.
type Session struct {
	ID        string
	SessionID string

	client *websocket.Conn
	target *websocket.Conn

	mapping    *Mapping
	correlator *cdp.Correlator

	clientWriteMu sync.Mutex
	targetWriteMu sync.Mutex

	mu    sync.Mutex
	state State
	done  chan struct{}
	wg    sync.WaitGroup
}

func newSession(id, sessionID string, client, target *websocket.Conn, mapping *Mapping) *Session {
	return &Session{
		ID:         id,
		SessionID:  sessionID,
		client:     client,
		target:     target,
		mapping:    mapping,
		correlator: cdp.NewCorrelator(),
		state:      StateConnecting,
		done:       make(chan struct{}),
	}
}

// State reports the current lifecycle phase
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// run relays traffic in both directions until either socket fails, then
// returns the first transport error. The caller tears the session down.
func (s *Session) run() error {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateActive
	s.mu.Unlock()

	errChan := make(chan error, 2)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		errChan <- s.relay(s.client, cdp.ClientToTarget)
	}()
	go func() {
		defer s.wg.Done()
		errChan <- s.relay(s.target, cdp.TargetToClient)
	}()

	return <-errChan
}

// relay reads from one socket, applies direction-specific rewrites, and
// writes to the other. A message that fails to parse is logged and dropped;
// the session continues.
func (s *Session) relay(src *websocket.Conn, dir cdp.Direction) error {
	for {
		_, data, err := src.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error (%s) for session %s: %v", dir, s.SessionID, err)
			}
			return err
		}

		msg, err := cdp.Decode(data)
		if err != nil {
			log.Printf("Dropping unparseable message (%s): %v", dir, err)
			continue
		}

		var forward bool
		if dir == cdp.ClientToTarget {
			forward = s.forwardClientToTarget(msg)
		} else {
			forward = s.forwardTargetToClient(msg)
		}
		if !forward {
			continue
		}

		out, err := msg.Bytes()
		if err != nil {
			log.Printf("Dropping unencodable message (%s): %v", dir, err)
			continue
		}

		if err := s.write(dir, out); err != nil {
			log.Printf("Failed to write message (%s): %v", dir, err)
			return err
		}
	}
}

func (s *Session) write(dir cdp.Direction, data []byte) error {
	if dir == cdp.ClientToTarget {
		s.targetWriteMu.Lock()
		defer s.targetWriteMu.Unlock()
		return s.target.WriteMessage(websocket.TextMessage, data)
	}
	s.clientWriteMu.Lock()
	defer s.clientWriteMu.Unlock()
	return s.client.WriteMessage(websocket.TextMessage, data)
}

// Close tears down both sockets and clears all pending-request and mapping
// state. Safe to call at any state, any number of times.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.mu.Unlock()

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")

	s.clientWriteMu.Lock()
	s.client.WriteMessage(websocket.CloseMessage, closeMsg)
	s.clientWriteMu.Unlock()
	s.client.Close()

	s.targetWriteMu.Lock()
	s.target.WriteMessage(websocket.CloseMessage, closeMsg)
	s.targetWriteMu.Unlock()
	s.target.Close()

	s.correlator.Clear()

	// Wait for both relay loops to confirm closure, or force the transition
	// after the teardown timeout.
	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(teardownTimeout):
		log.Printf("Forced close for session %s after teardown timeout", s.SessionID)
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	close(s.done)
}
