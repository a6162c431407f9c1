package reconciler

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// defaultRetries is the health-failure threshold when a task's health check
// does not set one.
const defaultRetries = 3

// Cluster is the slice of cluster state the reconciler works against.
// *manager.Manager implements it.
type Cluster interface {
	IsLeader() bool
	Broker() *events.Broker
	HeartbeatTimeout() time.Duration
	ListNodes(filter *manager.NodeFilter) ([]*types.Node, error)
	ListServices() ([]*types.Service, error)
	ListTasks() ([]*types.Task, error)
	UpdateNode(node *types.Node) error
	UpdateTask(task *types.Task) error
	DeleteTask(id string) error
}

// Reconciler runs the failure-detection pass: it marks silent nodes
// unreachable, fails their tasks so the scheduler reschedules them, fails
// tasks that keep missing their health probe, and cleans up finished task
// records.
type Reconciler struct {
	manager  Cluster
	interval time.Duration
	grace    time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// Config holds reconciler configuration
type Config struct {
	Interval time.Duration
	// Grace is how long finished task records are kept before deletion,
	// so operators can still inspect them.
	Grace time.Duration
}

// NewReconciler creates a reconciler bound to the given cluster state
func NewReconciler(mgr Cluster, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Grace <= 0 {
		cfg.Grace = time.Minute
	}
	return &Reconciler{
		manager:  mgr,
		interval: cfg.Interval,
		grace:    cfg.Grace,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciliation loop and waits for it to exit
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) run() {
	defer close(r.doneCh)

	logger := log.WithComponent("reconciler")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Sweep(time.Now()); err != nil {
				logger.Error().Err(err).Msg("Reconciliation pass failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Sweep performs a single reconciliation pass at the given time. Only the
// Raft leader reconciles; followers return immediately.
func (r *Reconciler) Sweep(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.manager.IsLeader() {
		return nil
	}

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	nodes, err := r.manager.ListNodes(nil)
	if err != nil {
		return err
	}

	r.sweepNodes(nodes, now)

	if err := r.sweepTasks(nodes, now); err != nil {
		return err
	}

	r.updateGauges(nodes)
	return nil
}

// sweepNodes marks nodes unreachable once their heartbeat has been silent
// past the cluster timeout. Recovery is driven by the next heartbeat, which
// sets the node ready again.
func (r *Reconciler) sweepNodes(nodes []*types.Node, now time.Time) {
	timeout := r.manager.HeartbeatTimeout()

	for _, node := range nodes {
		if node.Status != types.NodeStatusReady {
			continue
		}
		if now.Sub(node.LastHeartbeat) <= timeout {
			continue
		}

		log.WithNodeID(node.ID).Warn().
			Dur("silent_for", now.Sub(node.LastHeartbeat)).
			Msg("Node missed heartbeats, marking unreachable")

		node.Status = types.NodeStatusUnreachable
		if err := r.manager.UpdateNode(node); err != nil {
			log.WithNodeID(node.ID).Error().Err(err).Msg("Failed to mark node unreachable")
			continue
		}
		r.manager.Broker().Publish(&events.Event{
			Type:     events.EventNodeUnreachable,
			Message:  fmt.Sprintf("node %s unreachable", node.ID),
			Metadata: map[string]string{"node_id": node.ID},
		})
	}
}

func (r *Reconciler) sweepTasks(nodes []*types.Node, now time.Time) error {
	tasks, err := r.manager.ListTasks()
	if err != nil {
		return err
	}

	nodeByID := make(map[string]*types.Node, len(nodes))
	for _, n := range nodes {
		nodeByID[n.ID] = n
	}

	for _, task := range tasks {
		node := nodeByID[task.NodeID]

		switch {
		// Tasks on a lost node are failed so the scheduler immediately
		// counts them against the service's deficit and replaces them
		// elsewhere. The node record stays for possible recovery.
		case task.DesiredState == types.TaskStateRunning && (node == nil || node.Status == types.NodeStatusUnreachable):
			r.failTask(task, now, "node unreachable")

		case task.Active() && task.ActualState == types.TaskStatePending:
			r.activateTask(task, node, now)

		case task.DesiredState == types.TaskStateRunning && task.ActualState == types.TaskStateRunning && unhealthy(task):
			r.failTask(task, now, fmt.Sprintf("health check failed: %s", task.HealthStatus.Message))

		// A task asked to stop is recorded as stopped once the node has
		// wound it down; address drops out of discovery with it.
		case task.DesiredState == types.TaskStateShutdown && task.ActualState != types.TaskStateShutdown && task.ActualState != types.TaskStateFailed:
			task.ActualState = types.TaskStateShutdown
			task.FinishedAt = now
			if err := r.manager.UpdateTask(task); err != nil {
				log.WithTaskID(task.ID).Error().Err(err).Msg("Failed to record task shutdown")
			}

		case task.DesiredState == types.TaskStateShutdown && !task.FinishedAt.IsZero() && now.Sub(task.FinishedAt) > r.grace:
			if err := r.manager.DeleteTask(task.ID); err != nil {
				log.WithTaskID(task.ID).Error().Err(err).Msg("Failed to delete finished task")
			}
		}
	}

	return nil
}

// activateTask transitions a pending task to running once its node is
// ready, deriving the address the instance is reachable at. This stands in
// for the node agent's start acknowledgement.
func (r *Reconciler) activateTask(task *types.Task, node *types.Node, now time.Time) {
	if node == nil || node.Status != types.NodeStatusReady {
		return
	}

	task.ActualState = types.TaskStateRunning
	task.StartedAt = now
	task.Address = taskAddress(node, task)
	if err := r.manager.UpdateTask(task); err != nil {
		log.WithTaskID(task.ID).Error().Err(err).Msg("Failed to activate task")
		return
	}

	r.manager.Broker().Publish(&events.Event{
		Type:    events.EventTaskRunning,
		Message: fmt.Sprintf("task %s running on node %s", task.ID, node.ID),
		Metadata: map[string]string{
			"service": task.ServiceName,
			"task_id": task.ID,
			"node_id": node.ID,
		},
	})
}

// failTask marks a task failed and requests shutdown, so it both counts as
// a deficit for the scheduler and gets cleaned up after the grace period.
func (r *Reconciler) failTask(task *types.Task, now time.Time, reason string) {
	log.WithTaskID(task.ID).Warn().
		Str("service", task.ServiceName).
		Str("reason", reason).
		Msg("Task failed, will be replaced")

	task.ActualState = types.TaskStateFailed
	task.DesiredState = types.TaskStateShutdown
	task.Error = reason
	task.FinishedAt = now
	if err := r.manager.UpdateTask(task); err != nil {
		log.WithTaskID(task.ID).Error().Err(err).Msg("Failed to mark task failed")
		return
	}

	metrics.TasksFailed.Inc()
	r.manager.Broker().Publish(&events.Event{
		Type:    events.EventTaskFailed,
		Message: fmt.Sprintf("task %s failed: %s", task.ID, reason),
		Metadata: map[string]string{
			"service": task.ServiceName,
			"task_id": task.ID,
			"node_id": task.NodeID,
			"reason":  reason,
		},
	})
}

// unhealthy reports whether a task has crossed its health-failure threshold
func unhealthy(task *types.Task) bool {
	if task.HealthCheck == nil || task.HealthStatus == nil {
		return false
	}
	retries := task.HealthCheck.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	return task.HealthStatus.ConsecutiveFailures >= retries
}

// taskAddress derives the host:port an instance serves on. The node
// address carries the host; the first port mapping carries the port.
func taskAddress(node *types.Node, task *types.Task) string {
	if len(task.Ports) == 0 {
		return node.Address
	}
	p := task.Ports[0]
	port := p.HostPort
	if port == 0 {
		port = p.ContainerPort
	}
	return node.Address + ":" + strconv.Itoa(port)
}

func (r *Reconciler) updateGauges(nodes []*types.Node) {
	metrics.NodesTotal.Reset()
	for _, n := range nodes {
		metrics.NodesTotal.WithLabelValues(string(n.Role), string(n.Status)).Inc()
	}

	if services, err := r.manager.ListServices(); err == nil {
		metrics.ServicesTotal.Set(float64(len(services)))
	}

	if tasks, err := r.manager.ListTasks(); err == nil {
		metrics.TasksTotal.Reset()
		for _, t := range tasks {
			metrics.TasksTotal.WithLabelValues(string(t.ActualState)).Inc()
		}
	}
}
