package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrobridge/metrobridge/internal/proxy"
	"github.com/metrobridge/metrobridge/internal/worker"
	"github.com/metrobridge/metrobridge/pkg/models"
)

type fakeWorker struct {
	cfg      worker.Config
	startErr error
	started  atomic.Bool
	stopped  atomic.Bool
}

func (w *fakeWorker) Start(ctx context.Context, isRetry bool) error {
	if w.startErr != nil {
		return w.startErr
	}
	w.started.Store(true)
	return nil
}

func (w *fakeWorker) Stop() {
	w.stopped.Store(true)
}

func (w *fakeWorker) Subscribe() (<-chan worker.ConnectedEvent, func()) {
	ch := make(chan worker.ConnectedEvent)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

type workerPool struct {
	mu       sync.Mutex
	workers  []*fakeWorker
	startErr error
}

func (p *workerPool) factory(cfg worker.Config) WorkerManager {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := &fakeWorker{cfg: cfg, startErr: p.startErr}
	p.workers = append(p.workers, w)
	return w
}

func (p *workerPool) last() *fakeWorker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) == 0 {
		return nil
	}
	return p.workers[len(p.workers)-1]
}

func validRequest() models.CreateSessionRequest {
	return models.CreateSessionRequest{
		ProjectID: "proj-1",
		TargetURL: "ws://127.0.0.1:9229/device",
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	pool := &workerPool{}
	r := NewRegistry("metrobridge", pool.factory)

	sess, err := r.Create(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, models.StatusRunning, sess.Status)
	assert.Equal(t, 3600, sess.Timeout)
	assert.Equal(t, "127.0.0.1", sess.PackagerHost)
	assert.Equal(t, 8081, sess.PackagerPort)
	assert.NotEmpty(t, sess.ID)

	w := pool.last()
	require.NotNil(t, w)
	assert.True(t, w.started.Load())
	assert.Equal(t, sess.ID, w.cfg.SessionID)
	assert.Equal(t, "metrobridge", w.cfg.ClientName)
}

func TestCreateValidation(t *testing.T) {
	r := NewRegistry("metrobridge", (&workerPool{}).factory)

	_, err := r.Create(context.Background(), models.CreateSessionRequest{TargetURL: "ws://x"})
	assert.ErrorContains(t, err, "projectId is required")

	_, err = r.Create(context.Background(), models.CreateSessionRequest{ProjectID: "p"})
	assert.ErrorContains(t, err, "targetUrl is required")

	req := validRequest()
	req.Timeout = 30
	_, err = r.Create(context.Background(), req)
	assert.ErrorContains(t, err, "timeout must be between")

	req.Timeout = 30000
	_, err = r.Create(context.Background(), req)
	assert.ErrorContains(t, err, "timeout must be between")
}

func TestCreateWorkerStartFailureReleasesSlot(t *testing.T) {
	pool := &workerPool{startErr: errors.New("packager is down")}
	r := NewRegistry("metrobridge", pool.factory)

	for i := 0; i < maxSessionsPerProject+2; i++ {
		_, err := r.Create(context.Background(), validRequest())
		// Every attempt fails on worker start, never on the concurrency
		// limit: failed creations give their slot back.
		assert.ErrorContains(t, err, "failed to start worker manager")
	}
}

func TestConcurrencyLimitPerProject(t *testing.T) {
	pool := &workerPool{}
	r := NewRegistry("metrobridge", pool.factory)

	var last *models.Session
	for i := 0; i < maxSessionsPerProject; i++ {
		sess, err := r.Create(context.Background(), validRequest())
		require.NoError(t, err)
		last = sess
	}

	_, err := r.Create(context.Background(), validRequest())
	assert.ErrorContains(t, err, "concurrency limit reached")

	// Another project is unaffected.
	other := validRequest()
	other.ProjectID = "proj-2"
	_, err = r.Create(context.Background(), other)
	assert.NoError(t, err)

	// Deleting frees a slot.
	require.NoError(t, r.Delete(last.ID))
	_, err = r.Create(context.Background(), validRequest())
	assert.NoError(t, err)
}

func TestGetListDelete(t *testing.T) {
	pool := &workerPool{}
	r := NewRegistry("metrobridge", pool.factory)

	sess, err := r.Create(context.Background(), validRequest())
	require.NoError(t, err)

	got, err := r.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	_, err = r.Get("nope")
	assert.ErrorContains(t, err, "session not found")

	assert.Len(t, r.List("proj-1", ""), 1)
	assert.Len(t, r.List("proj-1", models.StatusRunning), 1)
	assert.Empty(t, r.List("proj-1", models.StatusCompleted))
	assert.Empty(t, r.List("other", ""))

	require.NoError(t, r.Delete(sess.ID))
	assert.True(t, pool.last().stopped.Load())
	assert.Equal(t, models.StatusCompleted, sess.Status)

	assert.ErrorContains(t, r.Delete(sess.ID), "session is not running")
	assert.ErrorContains(t, r.Delete("nope"), "session not found")
}

func TestDebugTargetResolution(t *testing.T) {
	pool := &workerPool{}
	r := NewRegistry("metrobridge", pool.factory)

	req := validRequest()
	req.Mappings = []models.MappingEntry{{
		Source: models.Location{URL: "App.js", Line: 10},
		Device: models.Location{URL: "http://localhost:8081/index.bundle", Line: 1542},
	}}
	sess, err := r.Create(context.Background(), req)
	require.NoError(t, err)

	target, err := r.DebugTarget(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, req.TargetURL, target.URL)

	device, ok := target.Mapping.SourceToDevice(models.Location{URL: "App.js", Line: 10})
	require.True(t, ok)
	assert.Equal(t, 1542, device.Line)

	_, err = r.DebugTarget("missing")
	assert.ErrorIs(t, err, proxy.ErrNotFound)

	require.NoError(t, r.Delete(sess.ID))
	_, err = r.DebugTarget(sess.ID)
	assert.ErrorContains(t, err, "session is not running")
}

func TestUsage(t *testing.T) {
	pool := &workerPool{}
	r := NewRegistry("metrobridge", pool.factory)

	a, err := r.Create(context.Background(), validRequest())
	require.NoError(t, err)
	_, err = r.Create(context.Background(), validRequest())
	require.NoError(t, err)

	usage := r.Usage("proj-1")
	assert.Equal(t, "proj-1", usage.ProjectID)
	assert.Equal(t, 2, usage.ActiveSessions)

	require.NoError(t, r.Delete(a.ID))
	usage = r.Usage("proj-1")
	assert.Equal(t, 1, usage.ActiveSessions)

	assert.Equal(t, 0, r.Usage("unknown").ActiveSessions)
}

func TestCloseStopsEverything(t *testing.T) {
	pool := &workerPool{}
	r := NewRegistry("metrobridge", pool.factory)

	a, err := r.Create(context.Background(), validRequest())
	require.NoError(t, err)
	reqB := validRequest()
	reqB.ProjectID = "proj-2"
	b, err := r.Create(context.Background(), reqB)
	require.NoError(t, err)

	r.Close()

	for _, id := range []string{a.ID, b.ID} {
		sess, err := r.Get(id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, sess.Status)
	}
	for _, w := range pool.workers {
		assert.True(t, w.stopped.Load())
	}
}
