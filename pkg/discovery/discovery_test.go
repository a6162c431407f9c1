package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

func newTestResolver(t *testing.T) (*Resolver, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewResolver(store), store
}

func seedService(t *testing.T, store storage.Store, name string) *types.Service {
	t.Helper()
	svc := &types.Service{
		ID:       "svc-" + name,
		Name:     name,
		Image:    "nginx:latest",
		Replicas: 3,
	}
	require.NoError(t, store.CreateService(svc))
	return svc
}

func seedTask(t *testing.T, store storage.Store, svc *types.Service, id, addr string, createdAt time.Time) *types.Task {
	t.Helper()
	task := &types.Task{
		ID:           id,
		ServiceID:    svc.ID,
		ServiceName:  svc.Name,
		NodeID:       "node-1",
		DesiredState: types.TaskStateRunning,
		ActualState:  types.TaskStateRunning,
		Address:      addr,
		CreatedAt:    createdAt,
	}
	require.NoError(t, store.CreateTask(task))
	return task
}

func TestResolveReturnsLiveEndpointsInStableOrder(t *testing.T) {
	resolver, store := newTestResolver(t)
	svc := seedService(t, store, "web")

	base := time.Now().Add(-time.Hour)
	seedTask(t, store, svc, "task-b", "10.0.0.2:8080", base.Add(time.Minute))
	seedTask(t, store, svc, "task-a", "10.0.0.1:8080", base)
	seedTask(t, store, svc, "task-c", "10.0.0.3:8080", base.Add(2*time.Minute))

	endpoints, err := resolver.Resolve("web")
	require.NoError(t, err)
	require.Len(t, endpoints, 3)

	assert.Equal(t, "task-a", endpoints[0].TaskID)
	assert.Equal(t, "task-b", endpoints[1].TaskID)
	assert.Equal(t, "task-c", endpoints[2].TaskID)
	assert.Equal(t, "10.0.0.1:8080", endpoints[0].Addr)
	assert.Equal(t, "web", endpoints[0].ServiceName)
}

func TestResolveTieBreaksOnTaskID(t *testing.T) {
	resolver, store := newTestResolver(t)
	svc := seedService(t, store, "web")

	at := time.Now().Add(-time.Hour)
	seedTask(t, store, svc, "task-z", "10.0.0.2:8080", at)
	seedTask(t, store, svc, "task-a", "10.0.0.1:8080", at)

	endpoints, err := resolver.Resolve("web")
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.Equal(t, "task-a", endpoints[0].TaskID)
}

func TestResolveExcludesUnservableTasks(t *testing.T) {
	resolver, store := newTestResolver(t)
	svc := seedService(t, store, "web")
	base := time.Now().Add(-time.Hour)

	seedTask(t, store, svc, "task-live", "10.0.0.1:8080", base)

	pending := seedTask(t, store, svc, "task-pending", "10.0.0.2:8080", base)
	pending.ActualState = types.TaskStatePending
	require.NoError(t, store.UpdateTask(pending))

	draining := seedTask(t, store, svc, "task-draining", "10.0.0.3:8080", base)
	draining.DesiredState = types.TaskStateShutdown
	require.NoError(t, store.UpdateTask(draining))

	seedTask(t, store, svc, "task-noaddr", "", base)

	unhealthy := seedTask(t, store, svc, "task-unhealthy", "10.0.0.4:8080", base)
	unhealthy.HealthCheck = &types.HealthCheck{Type: types.HealthCheckTCP, Port: 8080}
	unhealthy.HealthStatus = &types.HealthStatus{Healthy: false}
	require.NoError(t, store.UpdateTask(unhealthy))

	// A health check that has not been probed yet does not exclude the task.
	unprobed := seedTask(t, store, svc, "task-unprobed", "10.0.0.5:8080", base)
	unprobed.HealthCheck = &types.HealthCheck{Type: types.HealthCheckTCP, Port: 8080}
	require.NoError(t, store.UpdateTask(unprobed))

	endpoints, err := resolver.Resolve("web")
	require.NoError(t, err)

	got := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		got = append(got, ep.TaskID)
	}
	assert.ElementsMatch(t, []string{"task-live", "task-unprobed"}, got)
}

func TestResolveUnknownService(t *testing.T) {
	resolver, _ := newTestResolver(t)
	_, err := resolver.Resolve("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTargetsDerivedFromMetricsServices(t *testing.T) {
	resolver, store := newTestResolver(t)

	with := seedService(t, store, "web")
	with.Metrics = &types.MetricsConfig{Port: 9100, Path: "/stats", Interval: 30 * time.Second}
	require.NoError(t, store.UpdateService(with))
	seedTask(t, store, with, "task-1", "10.0.0.1:8080", time.Now())

	without := seedService(t, store, "db")
	seedTask(t, store, without, "task-2", "10.0.0.2:5432", time.Now())

	targets, err := resolver.Targets()
	require.NoError(t, err)
	require.Len(t, targets, 1, "services without a metrics config derive no targets")

	target := targets[0]
	assert.Equal(t, "web/task-1", target.ID)
	assert.Equal(t, "10.0.0.1:9100", target.Addr, "serving port is swapped for the metrics port")
	assert.Equal(t, "/stats", target.Path)
	assert.Equal(t, 30*time.Second, target.Interval)
	assert.Equal(t, "web", target.Labels["service"])
	assert.Equal(t, "task-1", target.Labels["task_id"])
	assert.Equal(t, "10.0.0.1:8080", target.Labels["instance"])
}

func TestTargetsDefaultPathAndPort(t *testing.T) {
	resolver, store := newTestResolver(t)

	svc := seedService(t, store, "web")
	svc.Metrics = &types.MetricsConfig{}
	require.NoError(t, store.UpdateService(svc))
	seedTask(t, store, svc, "task-1", "10.0.0.1:8080", time.Now())

	targets, err := resolver.Targets()
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "/metrics", targets[0].Path)
	assert.Equal(t, "10.0.0.1:8080", targets[0].Addr, "zero metrics port keeps the serving address")
}
