package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// placementWarnAfter is the number of consecutive cycles a service may sit
// with unplaceable replicas before the scheduler logs a warning.
const placementWarnAfter = 3

// Cluster is the slice of cluster state the scheduler works against.
// *manager.Manager implements it.
type Cluster interface {
	IsLeader() bool
	Broker() *events.Broker
	ListServices() ([]*types.Service, error)
	ListNodes(filter *manager.NodeFilter) ([]*types.Node, error)
	ListTasks() ([]*types.Task, error)
	CreateTask(task *types.Task) error
	UpdateTask(task *types.Task) error
	DeleteService(id string) error
}

// Scheduler drives desired state toward actual state: it creates tasks for
// services below their replica count, shuts down surplus tasks, and rolls
// stale tasks onto the current spec in bounded batches.
type Scheduler struct {
	manager  Cluster
	interval time.Duration

	// mu serializes passes; a pass may be triggered by the ticker, by a
	// cluster event, or directly by tests via RunOnce.
	mu sync.Mutex

	// unplaced counts consecutive cycles a service had replicas that could
	// not be placed on any eligible node.
	unplaced map[string]int

	// lastBatch records when a rolling-update batch was last dispatched per
	// service, to honor the configured delay between batches.
	lastBatch map[string]time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// Config holds scheduler configuration
type Config struct {
	Interval time.Duration
}

// NewScheduler creates a scheduler bound to the given cluster state
func NewScheduler(mgr Cluster, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Scheduler{
		manager:   mgr,
		interval:  cfg.Interval,
		unplaced:  make(map[string]int),
		lastBatch: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the scheduling loop
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the scheduling loop and waits for it to exit
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	logger := log.WithComponent("scheduler")

	sub := s.manager.Broker().Subscribe()
	defer s.manager.Broker().Unsubscribe(sub)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.RunOnce(); err != nil {
				logger.Error().Err(err).Msg("Scheduling pass failed")
			}
		case event := <-sub:
			if !triggersPass(event.Type) {
				continue
			}
			if err := s.RunOnce(); err != nil {
				logger.Error().Err(err).Msg("Scheduling pass failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// triggersPass reports whether an event warrants an immediate pass instead
// of waiting for the next tick
func triggersPass(t events.EventType) bool {
	switch t {
	case events.EventServiceApplied, events.EventServiceRemoved,
		events.EventTaskFailed, events.EventNodeJoined,
		events.EventNodeLeft, events.EventNodeDrained,
		events.EventNodeUnreachable:
		return true
	}
	return false
}

// RunOnce performs a single scheduling pass over all services. Only the
// Raft leader schedules; followers return immediately.
func (s *Scheduler) RunOnce() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.manager.IsLeader() {
		return nil
	}

	services, err := s.manager.ListServices()
	if err != nil {
		return err
	}
	nodes, err := s.manager.ListNodes(nil)
	if err != nil {
		return err
	}
	tasks, err := s.manager.ListTasks()
	if err != nil {
		return err
	}

	// Cluster-wide active task count per node, for least-loaded selection.
	nodeLoad := make(map[string]int)
	byService := make(map[string][]*types.Task)
	for _, t := range tasks {
		if t.Active() {
			nodeLoad[t.NodeID]++
		}
		byService[t.ServiceID] = append(byService[t.ServiceID], t)
	}

	for _, service := range services {
		if err := s.scheduleService(service, byService[service.ID], nodes, nodeLoad); err != nil {
			log.WithService(service.Name).Error().Err(err).Msg("Failed to schedule service")
		}
	}

	return nil
}

func (s *Scheduler) scheduleService(service *types.Service, tasks []*types.Task, nodes []*types.Node, nodeLoad map[string]int) error {
	logger := log.WithService(service.Name)

	specHash := service.SpecHash()

	var current, stale []*types.Task
	for _, t := range tasks {
		if !t.Active() {
			continue
		}
		if t.SpecHash == specHash {
			current = append(current, t)
		} else {
			stale = append(stale, t)
		}
	}
	active := len(current) + len(stale)

	// A removed service drains to zero replicas; once no task records are
	// left the record itself goes away.
	if service.Removing && len(tasks) == 0 {
		logger.Info().Msg("Removed service fully drained, deleting record")
		return s.manager.DeleteService(service.ID)
	}

	maxUnavailable := service.UpdateConfig.MaxUnavailableOrDefault()

	switch {
	case active < service.Replicas:
		return s.scaleUp(service, specHash, service.Replicas-active, tasks, nodes, nodeLoad)

	case active > service.Replicas:
		return s.scaleDown(service, current, stale, active-service.Replicas, maxUnavailable)

	case len(stale) > 0:
		return s.rollStale(service, specHash, current, stale, maxUnavailable, tasks, nodes, nodeLoad)
	}

	delete(s.unplaced, service.ID)
	return nil
}

// scaleUp creates tasks until the service reaches its desired replica count
func (s *Scheduler) scaleUp(service *types.Service, specHash string, deficit int, tasks []*types.Task, nodes []*types.Node, nodeLoad map[string]int) error {
	logger := log.WithService(service.Name)

	// Replicas of this service already placed per node, for the
	// max-replicas-per-node constraint.
	perNode := make(map[string]int)
	for _, t := range tasks {
		if t.Active() {
			perNode[t.NodeID]++
		}
	}

	placed := 0
	for i := 0; i < deficit; i++ {
		node := selectNode(service, nodes, nodeLoad, perNode)
		if node == nil {
			metrics.PlacementFailures.Inc()
			break
		}

		task := newTask(service, specHash, node.ID)
		if err := s.manager.CreateTask(task); err != nil {
			return err
		}
		nodeLoad[node.ID]++
		perNode[node.ID]++
		placed++
		metrics.TasksScheduled.Inc()

		logger.Info().
			Str("task_id", task.ID).
			Str("node_id", node.ID).
			Msg("Created task")
		s.manager.Broker().Publish(&events.Event{
			Type:    events.EventTaskCreated,
			Message: "task created for service " + service.Name,
			Metadata: map[string]string{
				"service": service.Name,
				"task_id": task.ID,
				"node_id": node.ID,
			},
		})
	}

	if placed < deficit {
		s.unplaced[service.ID]++
		if s.unplaced[service.ID] >= placementWarnAfter {
			logger.Warn().
				Int("unplaced", deficit-placed).
				Int("cycles", s.unplaced[service.ID]).
				Msg("Replicas cannot be placed on any eligible node")
		}
	} else {
		delete(s.unplaced, service.ID)
	}

	return nil
}

// scaleDown shuts down surplus tasks, stale spec first then oldest first,
// never more than maxUnavailable in one pass
func (s *Scheduler) scaleDown(service *types.Service, current, stale []*types.Task, surplus, maxUnavailable int) error {
	victims := append(sortOldestFirst(stale), sortOldestFirst(current)...)

	n := surplus
	if n > maxUnavailable {
		n = maxUnavailable
	}
	if n > len(victims) {
		n = len(victims)
	}

	for _, task := range victims[:n] {
		if err := s.shutdownTask(service, task); err != nil {
			return err
		}
	}
	return nil
}

// rollStale replaces tasks built from an outdated spec. Replacement batches
// are bounded so that no more than maxUnavailable replicas are below a
// healthy running state at once; a batch is only dispatched when the
// previous batch's replacements have come up.
func (s *Scheduler) rollStale(service *types.Service, specHash string, current, stale []*types.Task, maxUnavailable int, tasks []*types.Task, nodes []*types.Node, nodeLoad map[string]int) error {
	if service.UpdateConfig != nil && service.UpdateConfig.Delay > 0 {
		if time.Since(s.lastBatch[service.ID]) < service.UpdateConfig.Delay {
			return nil
		}
	}

	unavailable := 0
	for _, t := range current {
		if !taskAvailable(t) {
			unavailable++
		}
	}

	batch := maxUnavailable - unavailable
	if batch <= 0 {
		return nil
	}
	if batch > len(stale) {
		batch = len(stale)
	}

	perNode := make(map[string]int)
	for _, t := range tasks {
		if t.Active() {
			perNode[t.NodeID]++
		}
	}

	logger := log.WithService(service.Name)
	for _, task := range sortOldestFirst(stale)[:batch] {
		if err := s.shutdownTask(service, task); err != nil {
			return err
		}
		nodeLoad[task.NodeID]--
		perNode[task.NodeID]--

		node := selectNode(service, nodes, nodeLoad, perNode)
		if node == nil {
			metrics.PlacementFailures.Inc()
			logger.Warn().Msg("No eligible node for rolling-update replacement")
			break
		}

		replacement := newTask(service, specHash, node.ID)
		if err := s.manager.CreateTask(replacement); err != nil {
			return err
		}
		nodeLoad[node.ID]++
		perNode[node.ID]++
		metrics.TasksScheduled.Inc()

		logger.Info().
			Str("old_task_id", task.ID).
			Str("task_id", replacement.ID).
			Str("node_id", node.ID).
			Msg("Rolling task onto updated spec")
	}

	s.lastBatch[service.ID] = time.Now()
	return nil
}

func (s *Scheduler) shutdownTask(service *types.Service, task *types.Task) error {
	task.DesiredState = types.TaskStateShutdown
	if err := s.manager.UpdateTask(task); err != nil {
		return err
	}
	s.manager.Broker().Publish(&events.Event{
		Type:    events.EventTaskShutdown,
		Message: "task shutdown requested",
		Metadata: map[string]string{
			"service": service.Name,
			"task_id": task.ID,
			"node_id": task.NodeID,
		},
	})
	return nil
}

func newTask(service *types.Service, specHash, nodeID string) *types.Task {
	return &types.Task{
		ID:           uuid.New().String(),
		ServiceID:    service.ID,
		ServiceName:  service.Name,
		NodeID:       nodeID,
		DesiredState: types.TaskStateRunning,
		ActualState:  types.TaskStatePending,
		Image:        service.Image,
		SpecHash:     specHash,
		Env:          service.Env,
		Ports:        service.Ports,
		HealthCheck:  service.HealthCheck,
		Resources:    service.Resources,
		CreatedAt:    time.Now(),
	}
}

// taskAvailable reports whether a task counts as serving: running, and
// healthy if it has a health check
func taskAvailable(t *types.Task) bool {
	if t.ActualState != types.TaskStateRunning {
		return false
	}
	if t.HealthCheck != nil && t.HealthStatus != nil && !t.HealthStatus.Healthy {
		return false
	}
	return true
}

// selectNode picks the least-loaded eligible node, breaking ties by node ID
// so repeated passes over identical state make identical choices
func selectNode(service *types.Service, nodes []*types.Node, nodeLoad, perNode map[string]int) *types.Node {
	var selected *types.Node
	for _, node := range nodes {
		if !eligible(service, node, perNode) {
			continue
		}
		if selected == nil {
			selected = node
			continue
		}
		if nodeLoad[node.ID] < nodeLoad[selected.ID] ||
			(nodeLoad[node.ID] == nodeLoad[selected.ID] && node.ID < selected.ID) {
			selected = node
		}
	}
	return selected
}

// eligible applies the service's placement constraints to a node
func eligible(service *types.Service, node *types.Node, perNode map[string]int) bool {
	if !node.Schedulable() {
		return false
	}

	c := service.Constraints
	if c == nil {
		return true
	}
	if c.Role != "" && node.Role != c.Role {
		return false
	}
	for k, v := range c.NodeLabels {
		if node.Labels[k] != v {
			return false
		}
	}
	if c.MaxReplicasPerNode > 0 && perNode[node.ID] >= c.MaxReplicasPerNode {
		return false
	}
	return true
}

func sortOldestFirst(tasks []*types.Task) []*types.Task {
	out := make([]*types.Task, len(tasks))
	copy(out, tasks)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
