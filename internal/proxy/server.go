package proxy

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// DebugTarget describes where a session's device runtime listens and which
// coordinate mapping applies to it.
type DebugTarget struct {
	URL     string
	Mapping *Mapping
}

// SessionSource resolves a session id to its debug target. Implemented by
// the session registry.
type SessionSource interface {
	DebugTarget(sessionID string) (DebugTarget, error)
}

// Server terminates debug-client CDP connections and proxies them to the
// device runtime endpoint of the named session.
type Server struct {
	source      SessionSource
	dialTimeout time.Duration

	// OnClosed, when set, is notified after a proxy session tears down.
	// Reconnection policy belongs to the caller, not the proxy.
	OnClosed func(sessionID string, err error)
}

func NewServer(source SessionSource) *Server {
	return &Server{
		source:      source,
		dialTimeout: 10 * time.Second,
	}
}

// HandleDebugConnection begins a proxy session for an inbound client socket.
// If the target connection cannot be established within the dial timeout the
// client socket is closed with a diagnostic reason.
func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request, sessionID string) {
	target, err := s.source.DebugTarget(sessionID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	log.Printf("Client connected to session %s debug", sessionID)

	ctx, cancel := context.WithTimeout(r.Context(), s.dialTimeout)
	defer cancel()

	targetConn, _, err := websocket.DefaultDialer.DialContext(ctx, target.URL, nil)
	if err != nil {
		log.Printf("Failed to connect to target for session %s: %v", sessionID, err)
		reason := fmt.Sprintf("target unreachable: %v", err)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason)
		clientConn.WriteMessage(websocket.CloseMessage, closeMsg)
		clientConn.Close()
		if s.OnClosed != nil {
			s.OnClosed(sessionID, fmt.Errorf("%w: %v", ErrTargetConnectTimeout, err))
		}
		return
	}

	log.Printf("Connected to target for session %s", sessionID)

	sess := newSession(uuid.New().String(), sessionID, clientConn, targetConn, target.Mapping)

	err = sess.run()
	sess.Close()

	log.Printf("Client disconnected from session %s debug", sessionID)
	if s.OnClosed != nil {
		s.OnClosed(sessionID, err)
	}
}
