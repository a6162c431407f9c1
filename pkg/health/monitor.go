package health

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// TaskStore is the slice of the manager the monitor needs
type TaskStore interface {
	ListTasks() ([]*types.Task, error)
	UpdateTask(task *types.Task) error
}

// Monitor probes running tasks on their configured interval and records
// the results on the task record. The reconciler replaces tasks whose
// consecutive failure count crosses the retry threshold.
type Monitor struct {
	store    TaskStore
	interval time.Duration

	mu     sync.Mutex
	status map[string]*Status // task ID -> probe history
	stopCh chan struct{}
}

// NewMonitor creates a new task health monitor. The interval is the
// monitor's own sweep cadence; per-task probe intervals are honored within
// each sweep.
func NewMonitor(store TaskStore, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		store:    store,
		interval: interval,
		status:   make(map[string]*Status),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the monitoring loop
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the monitor
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// Sweep probes every running task with a health check configured. Probes
// of distinct tasks run concurrently; each is bounded by its own timeout.
func (m *Monitor) Sweep(ctx context.Context) {
	tasks, err := m.store.ListTasks()
	if err != nil {
		log.WithComponent("health").Error().Err(err).Msg("failed to list tasks")
		return
	}

	var wg sync.WaitGroup
	live := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		live[task.ID] = true
		if task.ActualState != types.TaskStateRunning || task.HealthCheck == nil {
			continue
		}

		wg.Add(1)
		go func(task *types.Task) {
			defer wg.Done()
			m.probe(ctx, task)
		}(task)
	}
	wg.Wait()

	// Forget tasks that no longer exist
	m.mu.Lock()
	for id := range m.status {
		if !live[id] {
			delete(m.status, id)
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) probe(ctx context.Context, task *types.Task) {
	hc := task.HealthCheck
	cfg := Config{
		Interval: hc.Interval,
		Timeout:  hc.Timeout,
		Retries:  hc.Retries,
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultConfig().Retries
	}

	m.mu.Lock()
	status, ok := m.status[task.ID]
	if !ok {
		status = NewStatus()
		m.status[task.ID] = status
	}
	// Honor the per-task probe interval within the sweep cadence
	if cfg.Interval > 0 && !status.LastCheck.IsZero() && time.Since(status.LastCheck) < cfg.Interval {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	checker, err := m.checkerFor(task)
	if err != nil {
		log.WithComponent("health").Warn().Err(err).Str("task_id", task.ID).Msg("cannot build health checker")
		return
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	result := checker.Check(cctx)

	m.mu.Lock()
	status.Update(result, cfg)
	snapshot := *status
	m.mu.Unlock()

	changed := task.HealthStatus == nil ||
		task.HealthStatus.Healthy != snapshot.Healthy ||
		task.HealthStatus.ConsecutiveFailures != snapshot.ConsecutiveFailures

	if !changed {
		return
	}

	task.HealthStatus = &types.HealthStatus{
		Healthy:              snapshot.Healthy,
		Message:              result.Message,
		CheckedAt:            result.CheckedAt,
		ConsecutiveFailures:  snapshot.ConsecutiveFailures,
		ConsecutiveSuccesses: snapshot.ConsecutiveSuccesses,
	}
	if err := m.store.UpdateTask(task); err != nil {
		log.WithComponent("health").Error().Err(err).Str("task_id", task.ID).Msg("failed to record health status")
	}
}

// checkerFor builds the checker for a task from its spec and address
func (m *Monitor) checkerFor(task *types.Task) (Checker, error) {
	hc := task.HealthCheck
	host, _, err := net.SplitHostPort(task.Address)
	if err != nil {
		return nil, fmt.Errorf("task %s has no routable address: %w", task.ID, err)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(hc.Port))
	switch hc.Type {
	case types.HealthCheckHTTP:
		return NewHTTPChecker("http://" + addr + hc.Path).WithTimeout(hc.Timeout), nil
	case types.HealthCheckTCP:
		return NewTCPChecker(addr).WithTimeout(hc.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown health check type %q", hc.Type)
	}
}
