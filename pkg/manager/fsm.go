package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/hashicorp/raft"
)

// FSM implements the Raft finite state machine for Burrow's cluster state.
// It applies committed log entries to the local store and handles snapshots.
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFSM creates a new FSM instance
func NewFSM(store storage.Store) *FSM {
	return &FSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Apply applies a committed Raft log entry to the FSM
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	// Node operations
	case "create_node":
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.CreateNode(&node)

	case "update_node":
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.UpdateNode(&node)

	case "delete_node":
		var nodeID string
		if err := json.Unmarshal(cmd.Data, &nodeID); err != nil {
			return err
		}
		return f.store.DeleteNode(nodeID)

	// Service operations
	case "create_service":
		var service types.Service
		if err := json.Unmarshal(cmd.Data, &service); err != nil {
			return err
		}
		return f.store.CreateService(&service)

	case "update_service":
		var service types.Service
		if err := json.Unmarshal(cmd.Data, &service); err != nil {
			return err
		}
		return f.store.UpdateService(&service)

	case "delete_service":
		var serviceID string
		if err := json.Unmarshal(cmd.Data, &serviceID); err != nil {
			return err
		}
		return f.store.DeleteService(serviceID)

	// Task operations
	case "create_task":
		var task types.Task
		if err := json.Unmarshal(cmd.Data, &task); err != nil {
			return err
		}
		return f.store.CreateTask(&task)

	case "update_task":
		var task types.Task
		if err := json.Unmarshal(cmd.Data, &task); err != nil {
			return err
		}
		return f.store.UpdateTask(&task)

	case "delete_task":
		var taskID string
		if err := json.Unmarshal(cmd.Data, &taskID); err != nil {
			return err
		}
		return f.store.DeleteTask(taskID)

	// Alert rule operations
	case "put_alert_rule":
		var rule types.AlertRule
		if err := json.Unmarshal(cmd.Data, &rule); err != nil {
			return err
		}
		return f.store.PutAlertRule(&rule)

	case "delete_alert_rule":
		var name string
		if err := json.Unmarshal(cmd.Data, &name); err != nil {
			return err
		}
		return f.store.DeleteAlertRule(name)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM.
// Called periodically by Raft to compact the log.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	nodes, err := f.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	services, err := f.store.ListServices()
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	tasks, err := f.store.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	rules, err := f.store.ListAlertRules()
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}

	return &Snapshot{
		Nodes:    nodes,
		Services: services,
		Tasks:    tasks,
		Rules:    rules,
	}, nil
}

// Restore restores the FSM from a snapshot. Called when a node restarts
// or joins the cluster.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, node := range snapshot.Nodes {
		if err := f.store.CreateNode(node); err != nil {
			return fmt.Errorf("failed to restore node: %w", err)
		}
	}

	for _, service := range snapshot.Services {
		if err := f.store.CreateService(service); err != nil {
			return fmt.Errorf("failed to restore service: %w", err)
		}
	}

	for _, task := range snapshot.Tasks {
		if err := f.store.CreateTask(task); err != nil {
			return fmt.Errorf("failed to restore task: %w", err)
		}
	}

	for _, rule := range snapshot.Rules {
		if err := f.store.PutAlertRule(rule); err != nil {
			return fmt.Errorf("failed to restore alert rule: %w", err)
		}
	}

	return nil
}

// Snapshot represents a point-in-time snapshot of cluster state
type Snapshot struct {
	Nodes    []*types.Node
	Services []*types.Service
	Tasks    []*types.Task
	Rules    []*types.AlertRule
}

// Persist writes the snapshot to the given SnapshotSink
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := json.NewEncoder(sink).Encode(s)
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

// Release is a no-op; the snapshot holds no resources
func (s *Snapshot) Release() {}
