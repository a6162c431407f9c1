package scheduler

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/types"
)

// fakeCluster is an in-memory Cluster for driving scheduling passes without
// a Raft quorum.
type fakeCluster struct {
	mu       sync.Mutex
	leader   bool
	broker   *events.Broker
	services map[string]*types.Service
	nodes    map[string]*types.Node
	tasks    map[string]*types.Task
}

func newFakeCluster(t *testing.T) *fakeCluster {
	t.Helper()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	return &fakeCluster{
		leader:   true,
		broker:   broker,
		services: make(map[string]*types.Service),
		nodes:    make(map[string]*types.Node),
		tasks:    make(map[string]*types.Task),
	}
}

func (c *fakeCluster) IsLeader() bool { return c.leader }
func (c *fakeCluster) Broker() *events.Broker { return c.broker }

func (c *fakeCluster) ListServices() ([]*types.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Service, 0, len(c.services))
	for _, s := range c.services {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *fakeCluster) ListNodes(filter *manager.NodeFilter) ([]*types.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *fakeCluster) ListTasks() ([]*types.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *fakeCluster) CreateTask(task *types.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *task
	c.tasks[task.ID] = &cp
	return nil
}

func (c *fakeCluster) UpdateTask(task *types.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *task
	c.tasks[task.ID] = &cp
	return nil
}

func (c *fakeCluster) DeleteService(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.services, id)
	return nil
}

func (c *fakeCluster) addService(s *types.Service) { c.services[s.ID] = s }

func (c *fakeCluster) addNode(id string) *types.Node {
	n := &types.Node{
		ID:           id,
		Role:         types.NodeRoleWorker,
		Availability: types.NodeAvailabilityActive,
		Address:      "10.0.0.1",
		Status:       types.NodeStatusReady,
	}
	c.nodes[id] = n
	return n
}

func (c *fakeCluster) activeTasks(serviceID string) []*types.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.Task
	for _, t := range c.tasks {
		if t.ServiceID == serviceID && t.Active() {
			out = append(out, t)
		}
	}
	return out
}

// markRunning flips every pending task to running, standing in for the
// reconciler's activation step.
func (c *fakeCluster) markRunning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tasks {
		if t.Active() && t.ActualState == types.TaskStatePending {
			t.ActualState = types.TaskStateRunning
		}
	}
}

func webService(replicas int) *types.Service {
	return &types.Service{
		ID:       "svc-web",
		Name:     "web",
		Image:    "nginx:1.25",
		Replicas: replicas,
	}
}

func TestScaleUpReachesReplicaCount(t *testing.T) {
	cluster := newFakeCluster(t)
	cluster.addNode("node-1")
	cluster.addNode("node-2")
	svc := webService(3)
	cluster.addService(svc)

	sched := NewScheduler(cluster, Config{})
	require.NoError(t, sched.RunOnce())

	tasks := cluster.activeTasks(svc.ID)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, types.TaskStateRunning, task.DesiredState)
		assert.Equal(t, types.TaskStatePending, task.ActualState)
		assert.Equal(t, svc.SpecHash(), task.SpecHash)
		assert.Equal(t, "nginx:1.25", task.Image)
	}

	// A second pass over converged state changes nothing.
	require.NoError(t, sched.RunOnce())
	assert.Len(t, cluster.activeTasks(svc.ID), 3)
}

func TestScaleUpSpreadsAcrossLeastLoadedNodes(t *testing.T) {
	cluster := newFakeCluster(t)
	cluster.addNode("node-1")
	cluster.addNode("node-2")
	cluster.addNode("node-3")
	svc := webService(6)
	cluster.addService(svc)

	sched := NewScheduler(cluster, Config{})
	require.NoError(t, sched.RunOnce())

	perNode := make(map[string]int)
	for _, task := range cluster.activeTasks(svc.ID) {
		perNode[task.NodeID]++
	}
	assert.Equal(t, map[string]int{"node-1": 2, "node-2": 2, "node-3": 2}, perNode)
}

func TestSelectNodeTieBreaksOnID(t *testing.T) {
	cluster := newFakeCluster(t)
	cluster.addNode("node-b")
	cluster.addNode("node-a")
	svc := webService(1)
	cluster.addService(svc)

	sched := NewScheduler(cluster, Config{})
	require.NoError(t, sched.RunOnce())

	tasks := cluster.activeTasks(svc.ID)
	require.Len(t, tasks, 1)
	assert.Equal(t, "node-a", tasks[0].NodeID, "equal load resolves to the lexically smaller node ID")
}

func TestConstraintsFilterNodes(t *testing.T) {
	cluster := newFakeCluster(t)
	cluster.addNode("node-worker")
	mgr := cluster.addNode("node-manager")
	mgr.Role = types.NodeRoleManager
	labeled := cluster.addNode("node-ssd")
	labeled.Labels = map[string]string{"disk": "ssd"}

	svc := webService(2)
	svc.Constraints = &types.PlacementConstraints{
		Role:       types.NodeRoleWorker,
		NodeLabels: map[string]string{"disk": "ssd"},
	}
	cluster.addService(svc)

	sched := NewScheduler(cluster, Config{})
	require.NoError(t, sched.RunOnce())

	for _, task := range cluster.activeTasks(svc.ID) {
		assert.Equal(t, "node-ssd", task.NodeID)
	}
	assert.Len(t, cluster.activeTasks(svc.ID), 2)
}

func TestMaxReplicasPerNodeLimitsPlacement(t *testing.T) {
	cluster := newFakeCluster(t)
	cluster.addNode("node-1")
	cluster.addNode("node-2")

	svc := webService(5)
	svc.Constraints = &types.PlacementConstraints{MaxReplicasPerNode: 2}
	cluster.addService(svc)

	sched := NewScheduler(cluster, Config{})
	require.NoError(t, sched.RunOnce())

	tasks := cluster.activeTasks(svc.ID)
	assert.Len(t, tasks, 4, "the fifth replica has no eligible node")

	perNode := make(map[string]int)
	for _, task := range tasks {
		perNode[task.NodeID]++
	}
	assert.Equal(t, map[string]int{"node-1": 2, "node-2": 2}, perNode)

	// The shortfall is tracked across passes for the placement warning.
	require.NoError(t, sched.RunOnce())
	sched.mu.Lock()
	assert.Equal(t, 2, sched.unplaced[svc.ID])
	sched.mu.Unlock()
}

func TestDrainingNodeReceivesNoTasks(t *testing.T) {
	cluster := newFakeCluster(t)
	cluster.addNode("node-1")
	draining := cluster.addNode("node-2")
	draining.Availability = types.NodeAvailabilityDrain

	svc := webService(2)
	cluster.addService(svc)

	sched := NewScheduler(cluster, Config{})
	require.NoError(t, sched.RunOnce())

	for _, task := range cluster.activeTasks(svc.ID) {
		assert.Equal(t, "node-1", task.NodeID)
	}
}

func TestScaleDownShutsDownOldestFirst(t *testing.T) {
	cluster := newFakeCluster(t)
	cluster.addNode("node-1")
	svc := webService(3)
	svc.UpdateConfig = &types.UpdateConfig{MaxUnavailable: 5}
	cluster.addService(svc)

	sched := NewScheduler(cluster, Config{})
	require.NoError(t, sched.RunOnce())
	cluster.markRunning()

	// Age the tasks so ordering is deterministic, then shrink the service.
	cluster.mu.Lock()
	ids := make([]string, 0, 3)
	for id := range cluster.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	base := time.Now().Add(-time.Hour)
	for i, id := range ids {
		cluster.tasks[id].CreatedAt = base.Add(time.Duration(i) * time.Minute)
	}
	cluster.services[svc.ID].Replicas = 1
	cluster.mu.Unlock()

	require.NoError(t, sched.RunOnce())

	remaining := cluster.activeTasks(svc.ID)
	require.Len(t, remaining, 1)
	assert.Equal(t, ids[2], remaining[0].ID, "the newest task survives")
}

func TestScaleDownBoundedByMaxUnavailable(t *testing.T) {
	cluster := newFakeCluster(t)
	cluster.addNode("node-1")
	svc := webService(5)
	svc.UpdateConfig = &types.UpdateConfig{MaxUnavailable: 2}
	cluster.addService(svc)

	sched := NewScheduler(cluster, Config{})
	require.NoError(t, sched.RunOnce())
	cluster.markRunning()

	cluster.mu.Lock()
	cluster.services[svc.ID].Replicas = 0
	cluster.mu.Unlock()

	require.NoError(t, sched.RunOnce())
	assert.Len(t, cluster.activeTasks(svc.ID), 3, "one pass shuts down at most MaxUnavailable tasks")

	require.NoError(t, sched.RunOnce())
	assert.Len(t, cluster.activeTasks(svc.ID), 1)

	require.NoError(t, sched.RunOnce())
	assert.Empty(t, cluster.activeTasks(svc.ID))
}

func TestRollingUpdateReplacesStaleTasksInBatches(t *testing.T) {
	cluster := newFakeCluster(t)
	cluster.addNode("node-1")
	svc := webService(3)
	svc.UpdateConfig = &types.UpdateConfig{MaxUnavailable: 1}
	cluster.addService(svc)

	sched := NewScheduler(cluster, Config{})
	require.NoError(t, sched.RunOnce())
	cluster.markRunning()
	oldHash := svc.SpecHash()

	// New image invalidates the running tasks' spec hash.
	cluster.mu.Lock()
	cluster.services[svc.ID].Image = "nginx:1.26"
	newHash := cluster.services[svc.ID].SpecHash()
	cluster.mu.Unlock()
	require.NotEqual(t, oldHash, newHash)

	// First pass: one stale task is shut down and replaced.
	require.NoError(t, sched.RunOnce())
	counts := hashCounts(cluster, svc.ID)
	assert.Equal(t, 2, counts[oldHash])
	assert.Equal(t, 1, counts[newHash])

	// The replacement is still pending, so the next pass must hold back.
	require.NoError(t, sched.RunOnce())
	counts = hashCounts(cluster, svc.ID)
	assert.Equal(t, 2, counts[oldHash], "batch is gated until replacements are available")

	// Once the replacement comes up the roll continues to completion.
	cluster.markRunning()
	require.NoError(t, sched.RunOnce())
	cluster.markRunning()
	require.NoError(t, sched.RunOnce())
	cluster.markRunning()
	require.NoError(t, sched.RunOnce())

	counts = hashCounts(cluster, svc.ID)
	assert.Equal(t, 0, counts[oldHash])
	assert.Equal(t, 3, counts[newHash])
}

func hashCounts(cluster *fakeCluster, serviceID string) map[string]int {
	counts := make(map[string]int)
	for _, task := range cluster.activeTasks(serviceID) {
		counts[task.SpecHash]++
	}
	return counts
}

func TestRollingUpdateHonorsBatchDelay(t *testing.T) {
	cluster := newFakeCluster(t)
	cluster.addNode("node-1")
	svc := webService(2)
	svc.UpdateConfig = &types.UpdateConfig{MaxUnavailable: 1, Delay: time.Hour}
	cluster.addService(svc)

	sched := NewScheduler(cluster, Config{})
	require.NoError(t, sched.RunOnce())
	cluster.markRunning()
	oldHash := svc.SpecHash()

	cluster.mu.Lock()
	cluster.services[svc.ID].Image = "nginx:1.26"
	cluster.mu.Unlock()

	require.NoError(t, sched.RunOnce())
	require.Equal(t, 1, hashCounts(cluster, svc.ID)[oldHash])
	cluster.markRunning()

	// The second batch is inside the delay window and must not dispatch.
	require.NoError(t, sched.RunOnce())
	assert.Equal(t, 1, hashCounts(cluster, svc.ID)[oldHash])
}

func TestRemovedServiceDrainsThenDeletes(t *testing.T) {
	cluster := newFakeCluster(t)
	cluster.addNode("node-1")
	svc := webService(2)
	cluster.addService(svc)

	sched := NewScheduler(cluster, Config{})
	require.NoError(t, sched.RunOnce())
	cluster.markRunning()

	cluster.mu.Lock()
	cluster.services[svc.ID].Replicas = 0
	cluster.services[svc.ID].Removing = true
	cluster.mu.Unlock()

	// Drain passes: MaxUnavailable defaults to 1, so two passes to zero.
	require.NoError(t, sched.RunOnce())
	require.NoError(t, sched.RunOnce())
	require.Empty(t, cluster.activeTasks(svc.ID))

	// Task records linger until the reconciler removes them; the service
	// record must survive that long.
	cluster.mu.Lock()
	_, exists := cluster.services[svc.ID]
	cluster.mu.Unlock()
	assert.True(t, exists)

	cluster.mu.Lock()
	for id := range cluster.tasks {
		delete(cluster.tasks, id)
	}
	cluster.mu.Unlock()

	require.NoError(t, sched.RunOnce())
	cluster.mu.Lock()
	_, exists = cluster.services[svc.ID]
	cluster.mu.Unlock()
	assert.False(t, exists, "fully drained removed service is deleted")
}

func TestFailedTaskIsReplaced(t *testing.T) {
	cluster := newFakeCluster(t)
	cluster.addNode("node-1")
	svc := webService(2)
	cluster.addService(svc)

	sched := NewScheduler(cluster, Config{})
	require.NoError(t, sched.RunOnce())
	cluster.markRunning()

	cluster.mu.Lock()
	for _, task := range cluster.tasks {
		task.ActualState = types.TaskStateFailed
		task.DesiredState = types.TaskStateShutdown
		break
	}
	cluster.mu.Unlock()

	require.NoError(t, sched.RunOnce())
	assert.Len(t, cluster.activeTasks(svc.ID), 2, "a failed task no longer counts and is replaced")
}

func TestNodeLossReschedulesOntoSurvivors(t *testing.T) {
	cluster := newFakeCluster(t)
	cluster.addNode("node-1")
	cluster.addNode("node-2")
	svc := webService(2)
	cluster.addService(svc)

	sched := NewScheduler(cluster, Config{})
	require.NoError(t, sched.RunOnce())
	cluster.markRunning()

	// node-2 goes unreachable; its task is failed the way the reconciler
	// fails tasks on lost nodes.
	cluster.mu.Lock()
	cluster.nodes["node-2"].Status = types.NodeStatusUnreachable
	for _, task := range cluster.tasks {
		if task.NodeID == "node-2" {
			task.ActualState = types.TaskStateFailed
			task.DesiredState = types.TaskStateShutdown
		}
	}
	cluster.mu.Unlock()

	require.NoError(t, sched.RunOnce())

	tasks := cluster.activeTasks(svc.ID)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, "node-1", task.NodeID, "replacements land on the surviving node")
	}
}

func TestFollowerDoesNotSchedule(t *testing.T) {
	cluster := newFakeCluster(t)
	cluster.leader = false
	cluster.addNode("node-1")
	cluster.addService(webService(3))

	sched := NewScheduler(cluster, Config{})
	require.NoError(t, sched.RunOnce())
	assert.Empty(t, cluster.tasks)
}

func TestTriggersPass(t *testing.T) {
	assert.True(t, triggersPass(events.EventServiceApplied))
	assert.True(t, triggersPass(events.EventNodeUnreachable))
	assert.True(t, triggersPass(events.EventTaskFailed))
	assert.False(t, triggersPass(events.EventTaskCreated))
	assert.False(t, triggersPass(events.EventScrapeDown))
}
