package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/metrobridge/metrobridge/internal/bootstrap"
	"github.com/metrobridge/metrobridge/internal/packager"
	"github.com/metrobridge/metrobridge/internal/ratelimit"
	"github.com/metrobridge/metrobridge/internal/sandbox"
)

const (
	methodPrepareJSRuntime = "prepareJSRuntime"
	methodDisconnected     = "$disconnected"

	defaultRetryDelay  = 500 * time.Millisecond
	defaultDialTimeout = 10 * time.Second
)

// appMessage is the in-app protocol envelope over the packager socket.
// Messages with unrecognized methods are opaque payloads forwarded as-is.
type appMessage struct {
	Method string `json:"method"`
	ID     *int64 `json:"id"`
}

// ConnectedEvent is emitted when a new sandbox lifetime becomes ready
type ConnectedEvent struct {
	SessionID string
	ReplyID   int64
}

// Reachability is the packager health-check collaborator
type Reachability interface {
	IsRunning(ctx context.Context, host string, port int) bool
}

// Assembler prepares the bootstrap script the sandbox boots from
type Assembler interface {
	Assemble(ctx context.Context, opts bootstrap.Options) (string, error)
}

// RunnerFactory builds a fresh sandbox lifetime from an assembled script
type RunnerFactory func(scriptPath string) (sandbox.Runner, error)

// Config carries the per-session settings of a worker manager
type Config struct {
	SessionID          string
	Host               string
	Port               int
	ClientName         string
	ProjectPath        string
	WorkerPathOverride string
	RetryDelay         time.Duration
	DialTimeout        time.Duration
}

// Manager keeps exactly one sandboxed JS execution process synchronized with
// the packager's view of the running application, surviving reloads. It owns
// the single packager socket and the zero-or-one live sandbox lifetime.
type Manager struct {
	cfg       Config
	reach     Reachability
	assembler Assembler
	newRunner RunnerFactory
	throttle  *ratelimit.LogThrottle

	// OnDisconnect, when set, receives unrecoverable disconnect conditions:
	// the debugger-conflict classification and failed reconnect attempts.
	OnDisconnect func(err error)

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	conn             *websocket.Conn
	lifetime         sandbox.Runner
	scriptPath       string
	stopped          bool
	reconnectPending bool
	retryTimer       *time.Timer

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[chan ConnectedEvent]struct{}
}

// NewManager builds a stopped-state manager. Start opens the packager socket.
func NewManager(cfg Config, reach Reachability, assembler Assembler, newRunner RunnerFactory) *Manager {
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		reach:     reach,
		assembler: assembler,
		newRunner: newRunner,
		throttle:  ratelimit.NewLogThrottle(5 * time.Second),
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[chan ConnectedEvent]struct{}),
	}
}

// Start checks packager reachability, assembles the bootstrap script and
// opens the packager socket. On retry the health check and the script
// download are skipped: sandbox code does not change across reconnects.
func (m *Manager) Start(ctx context.Context, isRetry bool) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.conn != nil {
		m.mu.Unlock()
		return ErrSocketOpen
	}
	m.mu.Unlock()

	if !isRetry {
		if !m.reach.IsRunning(ctx, m.cfg.Host, m.cfg.Port) {
			return fmt.Errorf("%w at %s:%d", ErrPackagerUnreachable, m.cfg.Host, m.cfg.Port)
		}

		script, err := m.assembler.Assemble(ctx, bootstrap.Options{
			SessionID:   m.cfg.SessionID,
			Host:        m.cfg.Host,
			Port:        m.cfg.Port,
			ProjectPath: m.cfg.ProjectPath,
			WorkerPath:  m.cfg.WorkerPathOverride,
		})
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.scriptPath = script
		m.mu.Unlock()
	}

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.DialTimeout}
	proxyURL := packager.DebuggerProxyURL(m.cfg.Host, m.cfg.Port, m.cfg.ClientName)
	conn, _, err := dialer.DialContext(ctx, proxyURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to debugger proxy: %w", err)
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		conn.Close()
		return ErrStopped
	}
	m.conn = conn
	m.reconnectPending = false
	m.mu.Unlock()

	log.Printf("Connected to packager debugger proxy at %s:%d", m.cfg.Host, m.cfg.Port)

	go m.readLoop(conn)
	return nil
}

// readLoop consumes the packager socket until it closes
func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeReason string
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				closeReason = ce.Text
			}
			m.onSocketClosed(conn, closeReason, err)
			return
		}
		m.dispatch(data)
	}
}

// dispatch routes one inbound packager message. Malformed JSON and messages
// without a method are logged and ignored; the socket continues.
func (m *Manager) dispatch(data []byte) {
	var msg appMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Dropping unparseable packager message: %v", err)
		return
	}

	switch msg.Method {
	case "":
		log.Printf("Ignoring packager message with no method: %s", string(data))
	case methodPrepareJSRuntime:
		m.prepareRuntime(msg.ID)
	case methodDisconnected:
		m.teardownLifetime()
	default:
		m.forwardToLifetime(data)
	}
}

// prepareRuntime tears down any existing lifetime (guarding against a missed
// $disconnected), spawns a new sandbox, and acknowledges the packager once
// the sandbox is ready.
func (m *Manager) prepareRuntime(id *int64) {
	m.teardownLifetime()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	script := m.scriptPath
	m.mu.Unlock()

	runner, err := m.newRunner(script)
	if err != nil {
		log.Printf("Failed to build sandbox runner: %v", err)
		return
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		runner.Stop()
		return
	}
	m.lifetime = runner
	m.mu.Unlock()

	if err := runner.Start(m.ctx); err != nil {
		log.Printf("Sandbox failed to start: %v", err)
		m.mu.Lock()
		if m.lifetime == runner {
			m.lifetime = nil
		}
		m.mu.Unlock()
		runner.Stop()
		return
	}

	// Relay sandbox output back to the packager for this lifetime.
	go func() {
		for out := range runner.Messages() {
			m.SendToApp(out)
		}
	}()

	var replyID int64
	if id != nil {
		replyID = *id
	}
	m.SendToApp(map[string]int64{"replyID": replyID})
	log.Printf("Sandbox ready for session %s (replyID=%d)", m.cfg.SessionID, replyID)

	m.emitConnected(ConnectedEvent{SessionID: m.cfg.SessionID, ReplyID: replyID})
}

// forwardToLifetime passes an opaque method-bearing message to the live
// sandbox, or drops it silently when none exists.
func (m *Manager) forwardToLifetime(data []byte) {
	m.mu.Lock()
	lt := m.lifetime
	m.mu.Unlock()

	if lt == nil {
		return
	}
	lt.Post(data)
}

// teardownLifetime stops the current sandbox lifetime, if any
func (m *Manager) teardownLifetime() {
	m.mu.Lock()
	lt := m.lifetime
	m.lifetime = nil
	m.mu.Unlock()

	if lt != nil {
		lt.Stop()
	}
}

// SendToApp serializes a message and writes it to the packager socket. Send
// and serialization failures are logged with the payload's best-effort text
// and never propagate to the caller.
func (m *Manager) SendToApp(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to serialize packager message %+v: %v", v, err)
		return
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		log.Printf("Dropping packager message, socket closed: %s", string(data))
		return
	}

	m.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()
	if err != nil {
		log.Printf("Failed to send packager message %s: %v", string(data), err)
	}
}

// onSocketClosed handles the close of the current packager socket: the
// debugger-conflict condition surfaces as a distinct named error, anything
// else schedules exactly one reconnect attempt after the fixed delay.
func (m *Manager) onSocketClosed(conn *websocket.Conn, closeReason string, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		// A stale socket's close; the active socket already replaced it.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	stopped := m.stopped
	m.mu.Unlock()

	if stopped {
		return
	}

	if isDebuggerConflict(closeReason) {
		log.Printf("Packager refused session %s: another debugger is attached to the target", m.cfg.SessionID)
		if m.OnDisconnect != nil {
			m.OnDisconnect(ErrDebuggerConflict)
		}
		return
	}

	if m.throttle.Allow() {
		if n := m.throttle.TakeSuppressed(); n > 0 {
			log.Printf("Packager socket closed (%v), reconnecting (%d similar disconnects coalesced)", cause, n)
		} else {
			log.Printf("Packager socket closed (%v), reconnecting", cause)
		}
	}
	m.scheduleReconnect()
}

// scheduleReconnect arms one retry after the fixed delay. The previous
// socket is already fully closed when this runs, so only one PackagerSocket
// ever exists at a time.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.stopped || m.reconnectPending {
		m.mu.Unlock()
		return
	}
	m.reconnectPending = true
	delay := m.cfg.RetryDelay
	m.retryTimer = time.AfterFunc(delay, func() {
		if err := m.Start(m.ctx, true); err != nil {
			m.mu.Lock()
			m.reconnectPending = false
			stopped := m.stopped
			m.mu.Unlock()
			if stopped {
				return
			}
			log.Printf("Reconnection to packager failed, manual reconnect required: %v", err)
			if m.OnDisconnect != nil {
				m.OnDisconnect(fmt.Errorf("reconnection failed: %w", err))
			}
		}
	})
	m.mu.Unlock()
}

// Stop closes the packager socket, terminates any live sandbox lifetime and
// releases all listeners. Safe to call at any state, any number of times.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	conn := m.conn
	m.conn = nil
	lt := m.lifetime
	m.lifetime = nil
	timer := m.retryTimer
	m.mu.Unlock()

	m.cancel()
	if timer != nil {
		timer.Stop()
	}
	if conn != nil {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "debugger detached")
		m.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage, closeMsg)
		m.writeMu.Unlock()
		conn.Close()
	}
	if lt != nil {
		lt.Stop()
	}

	m.subMu.Lock()
	for ch := range m.subs {
		close(ch)
	}
	m.subs = make(map[chan ConnectedEvent]struct{})
	m.subMu.Unlock()
}

// Subscribe registers a listener for sandbox (re)creation events. The
// returned function unsubscribes and must be called on teardown.
func (m *Manager) Subscribe() (<-chan ConnectedEvent, func()) {
	ch := make(chan ConnectedEvent, 4)

	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			m.subMu.Lock()
			if _, ok := m.subs[ch]; ok {
				delete(m.subs, ch)
				close(ch)
			}
			m.subMu.Unlock()
		})
	}
	return ch, unsubscribe
}

func (m *Manager) emitConnected(ev ConnectedEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; the event is dropped rather than blocking
			// the dispatch loop.
		}
	}
}

// Lifetime reports whether a sandbox lifetime is currently live
func (m *Manager) Lifetime() sandbox.Runner {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lifetime
}
