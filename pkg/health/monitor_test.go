package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*types.Task
}

func newFakeTaskStore(tasks ...*types.Task) *fakeTaskStore {
	s := &fakeTaskStore{tasks: make(map[string]*types.Task)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *fakeTaskStore) ListTasks() ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeTaskStore) UpdateTask(task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *fakeTaskStore) get(id string) *types.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

func probedTask(id, addr string, port int) *types.Task {
	return &types.Task{
		ID:           id,
		ServiceName:  "web",
		DesiredState: types.TaskStateRunning,
		ActualState:  types.TaskStateRunning,
		Address:      addr,
		HealthCheck: &types.HealthCheck{
			Type:    types.HealthCheckHTTP,
			Path:    "/health",
			Port:    port,
			Timeout: time.Second,
			Retries: 2,
		},
	}
}

func testServerPort(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Host, port
}

func TestSweepRecordsHealthyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	addr, port := testServerPort(t, srv)

	store := newFakeTaskStore(probedTask("task-1", addr, port))
	monitor := NewMonitor(store, time.Minute)

	monitor.Sweep(context.Background())

	got := store.get("task-1")
	require.NotNil(t, got.HealthStatus)
	assert.True(t, got.HealthStatus.Healthy)
	assert.Equal(t, 0, got.HealthStatus.ConsecutiveFailures)
}

func TestSweepCountsConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	addr, port := testServerPort(t, srv)

	store := newFakeTaskStore(probedTask("task-1", addr, port))
	monitor := NewMonitor(store, time.Minute)

	monitor.Sweep(context.Background())
	got := store.get("task-1")
	require.NotNil(t, got.HealthStatus)
	assert.True(t, got.HealthStatus.Healthy, "first failure stays below the retry threshold")
	assert.Equal(t, 1, got.HealthStatus.ConsecutiveFailures)

	monitor.Sweep(context.Background())
	got = store.get("task-1")
	assert.False(t, got.HealthStatus.Healthy, "second failure crosses Retries=2")
	assert.Equal(t, 2, got.HealthStatus.ConsecutiveFailures)
}

func TestSweepSkipsTasksWithoutHealthCheck(t *testing.T) {
	task := &types.Task{
		ID:           "task-1",
		DesiredState: types.TaskStateRunning,
		ActualState:  types.TaskStateRunning,
		Address:      "10.0.0.1:8080",
	}
	store := newFakeTaskStore(task)
	monitor := NewMonitor(store, time.Minute)

	monitor.Sweep(context.Background())

	assert.Nil(t, store.get("task-1").HealthStatus)
}

func TestSweepSkipsNonRunningTasks(t *testing.T) {
	task := probedTask("task-1", "127.0.0.1", 1)
	task.ActualState = types.TaskStatePending
	store := newFakeTaskStore(task)
	monitor := NewMonitor(store, time.Minute)

	monitor.Sweep(context.Background())

	assert.Nil(t, store.get("task-1").HealthStatus)
}

func TestSweepHonorsProbeInterval(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	addr, port := testServerPort(t, srv)

	task := probedTask("task-1", addr, port)
	task.HealthCheck.Interval = time.Hour
	store := newFakeTaskStore(task)
	monitor := NewMonitor(store, time.Minute)

	monitor.Sweep(context.Background())
	monitor.Sweep(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits, "second sweep inside the probe interval must not re-probe")
}

func TestSweepForgetsRemovedTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	addr, port := testServerPort(t, srv)

	store := newFakeTaskStore(probedTask("task-1", addr, port))
	monitor := NewMonitor(store, time.Minute)

	monitor.Sweep(context.Background())
	require.Contains(t, monitor.status, "task-1")

	store.mu.Lock()
	delete(store.tasks, "task-1")
	store.mu.Unlock()

	monitor.Sweep(context.Background())
	assert.NotContains(t, monitor.status, "task-1")
}
