package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/metrobridge/metrobridge/internal/proxy"
	"github.com/metrobridge/metrobridge/internal/worker"
	"github.com/metrobridge/metrobridge/pkg/models"
)

const (
	defaultPackagerHost   = "127.0.0.1"
	defaultPackagerPort   = 8081
	maxSessionsPerProject = 10
)

// WorkerManager is the slice of worker.Manager the registry drives
type WorkerManager interface {
	Start(ctx context.Context, isRetry bool) error
	Stop()
	Subscribe() (<-chan worker.ConnectedEvent, func())
}

// WorkerFactory builds the worker lifetime manager for one session
type WorkerFactory func(cfg worker.Config) WorkerManager

type entry struct {
	session     *models.Session
	mapping     *proxy.Mapping
	worker      WorkerManager
	unsubscribe func()
}

// Registry owns every active debug session: creation, lookup, removal. It is
// an explicit object handed to the API and proxy layers, never ambient state.
type Registry struct {
	sessions    sync.Map
	concurrency map[string]*semaphore.Weighted
	mu          sync.RWMutex
	newWorker   WorkerFactory
	clientName  string
}

// NewRegistry creates a registry that builds workers through the factory
func NewRegistry(clientName string, newWorker WorkerFactory) *Registry {
	return &Registry{
		concurrency: make(map[string]*semaphore.Weighted),
		newWorker:   newWorker,
		clientName:  clientName,
	}
}

// Create validates the request, starts a worker lifetime manager against the
// packager and registers the session.
func (r *Registry) Create(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("projectId is required")
	}
	if req.TargetURL == "" {
		return nil, fmt.Errorf("targetUrl is required")
	}

	if req.Timeout == 0 {
		req.Timeout = 3600
	}
	if req.Timeout < 60 || req.Timeout > 21600 {
		return nil, fmt.Errorf("timeout must be between 60 and 21600 seconds")
	}
	if req.PackagerHost == "" {
		req.PackagerHost = defaultPackagerHost
	}
	if req.PackagerPort == 0 {
		req.PackagerPort = defaultPackagerPort
	}

	if err := r.acquireSlot(req.ProjectID); err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	now := time.Now()

	wm := r.newWorker(worker.Config{
		SessionID:   sessionID,
		Host:        req.PackagerHost,
		Port:        req.PackagerPort,
		ClientName:  r.clientName,
		ProjectPath: req.ProjectPath,
	})

	if err := wm.Start(ctx, false); err != nil {
		r.releaseSlot(req.ProjectID)
		return nil, fmt.Errorf("failed to start worker manager: %w", err)
	}

	sess := &models.Session{
		ID:           sessionID,
		ProjectID:    req.ProjectID,
		Status:       models.StatusRunning,
		StartedAt:    now,
		ExpiresAt:    now.Add(time.Duration(req.Timeout) * time.Second),
		Timeout:      req.Timeout,
		PackagerHost: req.PackagerHost,
		PackagerPort: req.PackagerPort,
		TargetURL:    req.TargetURL,
		ProjectPath:  req.ProjectPath,
	}

	events, unsubscribe := wm.Subscribe()
	go func() {
		for ev := range events {
			log.Printf("Sandbox lifetime started for session %s (replyID=%d)", ev.SessionID, ev.ReplyID)
		}
	}()

	r.sessions.Store(sessionID, &entry{
		session:     sess,
		mapping:     proxy.NewMapping(req.Mappings),
		worker:      wm,
		unsubscribe: unsubscribe,
	})

	go r.handleTimeout(sess)

	return sess, nil
}

// Get retrieves a session by ID
func (r *Registry) Get(id string) (*models.Session, error) {
	e, ok := r.load(id)
	if !ok {
		return nil, fmt.Errorf("session not found")
	}
	return e.session, nil
}

// List returns all sessions for a project, optionally filtered by status
func (r *Registry) List(projectID string, status models.SessionStatus) []*models.Session {
	var sessions []*models.Session

	r.sessions.Range(func(key, value interface{}) bool {
		e := value.(*entry)

		if projectID != "" && e.session.ProjectID != projectID {
			return true
		}
		if status != "" && e.session.Status != status {
			return true
		}

		sessions = append(sessions, e.session)
		return true
	})

	return sessions
}

// Delete stops the session's worker manager and marks it completed
func (r *Registry) Delete(id string) error {
	e, ok := r.load(id)
	if !ok {
		return fmt.Errorf("session not found")
	}
	if e.session.Status != models.StatusRunning {
		return fmt.Errorf("session is not running")
	}

	e.worker.Stop()
	e.unsubscribe()

	e.session.Status = models.StatusCompleted
	r.releaseSlot(e.session.ProjectID)

	return nil
}

// Usage reports a project's resource consumption across its sessions
func (r *Registry) Usage(projectID string) models.ProjectUsage {
	usage := models.ProjectUsage{ProjectID: projectID}

	r.sessions.Range(func(key, value interface{}) bool {
		e := value.(*entry)
		if e.session.ProjectID != projectID {
			return true
		}

		elapsed := time.Since(e.session.StartedAt)
		if max := time.Duration(e.session.Timeout) * time.Second; elapsed > max {
			elapsed = max
		}
		usage.DebugMinutes += int64(elapsed.Minutes())

		if e.session.Status == models.StatusRunning {
			usage.ActiveSessions++
		}
		return true
	})

	return usage
}

// DebugTarget resolves a session for the CDP proxy
func (r *Registry) DebugTarget(sessionID string) (proxy.DebugTarget, error) {
	e, ok := r.load(sessionID)
	if !ok {
		return proxy.DebugTarget{}, proxy.ErrNotFound
	}
	if e.session.Status != models.StatusRunning {
		return proxy.DebugTarget{}, fmt.Errorf("session is not running")
	}
	return proxy.DebugTarget{
		URL:     e.session.TargetURL,
		Mapping: e.mapping,
	}, nil
}

// Close stops every running session. Used on shutdown.
func (r *Registry) Close() {
	r.sessions.Range(func(key, value interface{}) bool {
		e := value.(*entry)
		if e.session.Status == models.StatusRunning {
			if err := r.Delete(e.session.ID); err != nil {
				log.Printf("Failed to stop session %s: %v", e.session.ID, err)
			}
		}
		return true
	})
}

func (r *Registry) load(id string) (*entry, bool) {
	value, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return value.(*entry), true
}

// acquireSlot tries to acquire a concurrency slot for the project
func (r *Registry) acquireSlot(projectID string) error {
	r.mu.Lock()
	sem, exists := r.concurrency[projectID]
	if !exists {
		sem = semaphore.NewWeighted(maxSessionsPerProject)
		r.concurrency[projectID] = sem
	}
	r.mu.Unlock()

	if !sem.TryAcquire(1) {
		return fmt.Errorf("concurrency limit reached for project %s", projectID)
	}
	return nil
}

// releaseSlot releases a concurrency slot for the project
func (r *Registry) releaseSlot(projectID string) {
	r.mu.RLock()
	sem := r.concurrency[projectID]
	r.mu.RUnlock()

	if sem != nil {
		sem.Release(1)
	}
}

// handleTimeout automatically terminates a session after its timeout
func (r *Registry) handleTimeout(sess *models.Session) {
	timer := time.NewTimer(time.Duration(sess.Timeout) * time.Second)
	defer timer.Stop()

	<-timer.C

	e, ok := r.load(sess.ID)
	if !ok || e.session.Status != models.StatusRunning {
		return
	}

	log.Printf("Session %s timed out after %ds", sess.ID, sess.Timeout)
	e.worker.Stop()
	e.unsubscribe()
	e.session.Status = models.StatusTimedOut
	r.releaseSlot(e.session.ProjectID)
}
