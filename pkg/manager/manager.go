package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// ErrNotLeader is returned for desired-state mutations on a follower
var ErrNotLeader = errors.New("not the leader")

// Manager is the control-plane state authority. All desired-state and task
// mutations are serialized through its Raft log and applied to the local
// store; readers go straight to the store and accept bounded staleness.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft   *raft.Raft
	fsm    *FSM
	store  storage.Store
	broker *events.Broker

	heartbeatTimeout time.Duration
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID           string
	BindAddr         string
	DataDir          string
	HeartbeatTimeout time.Duration // Node declared unreachable past this
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	hbTimeout := cfg.HeartbeatTimeout
	if hbTimeout <= 0 {
		hbTimeout = 30 * time.Second
	}

	return &Manager{
		nodeID:           cfg.NodeID,
		bindAddr:         cfg.BindAddr,
		dataDir:          cfg.DataDir,
		fsm:              NewFSM(store),
		store:            store,
		broker:           broker,
		heartbeatTimeout: hbTimeout,
	}, nil
}

// newRaftConfig returns Raft timeouts tuned for LAN failover
func (m *Manager) newRaftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	config.LogOutput = os.Stderr
	return config
}

// setupRaft builds transport and stores shared by Bootstrap and Join
func (m *Manager) setupRaft() (*raft.Raft, error) {
	config := m.newRaftConfig()

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	return raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
}

// Bootstrap initializes a new single-node Raft cluster
func (m *Manager) Bootstrap() error {
	r, err := m.setupRaft()
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      raft.ServerID(m.nodeID),
				Address: raft.ServerAddress(m.bindAddr),
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	log.WithComponent("manager").Info().
		Str("node_id", m.nodeID).
		Str("bind_addr", m.bindAddr).
		Msg("cluster bootstrapped")
	return nil
}

// Join starts Raft without bootstrapping; the existing leader must add
// this node as a voter (via the cluster join API).
func (m *Manager) Join() error {
	r, err := m.setupRaft()
	if err != nil {
		return err
	}
	m.raft = r
	return nil
}

// AddVoter adds a new manager node to the Raft cluster
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("%w, current leader: %s", ErrNotLeader, m.LeaderAddr())
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}

	log.WithComponent("manager").Info().
		Str("node_id", nodeID).
		Str("address", address).
		Msg("voter added to cluster")
	return nil
}

// RemoveServer removes a server from the Raft cluster
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return ErrNotLeader
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// IsLeader returns true if this manager is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// Broker returns the event broker
func (m *Manager) Broker() *events.Broker {
	return m.broker
}

// HeartbeatTimeout returns the configured node heartbeat timeout
func (m *Manager) HeartbeatTimeout() time.Duration {
	return m.heartbeatTimeout
}

// publish emits a cluster event
func (m *Manager) publish(t events.EventType, msg string, meta map[string]string) {
	m.broker.Publish(&events.Event{
		Type:     t,
		Message:  msg,
		Metadata: meta,
	})
}

// Apply submits a command to the Raft cluster
func (m *Manager) Apply(cmd Command) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	return nil
}

// apply marshals v and submits op to the Raft log
func (m *Manager) apply(op string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: op, Data: data})
}

// Task mutations, used by the scheduler and reconciler

// CreateTask creates a new task
func (m *Manager) CreateTask(task *types.Task) error {
	return m.apply("create_task", task)
}

// UpdateTask updates a task
func (m *Manager) UpdateTask(task *types.Task) error {
	return m.apply("update_task", task)
}

// DeleteTask removes a task
func (m *Manager) DeleteTask(id string) error {
	return m.apply("delete_task", id)
}

// Reads, served from the local store

// GetNode retrieves a node by ID
func (m *Manager) GetNode(id string) (*types.Node, error) {
	return m.store.GetNode(id)
}

// GetService retrieves a service by ID
func (m *Manager) GetService(id string) (*types.Service, error) {
	return m.store.GetService(id)
}

// GetServiceByName retrieves a service by name
func (m *Manager) GetServiceByName(name string) (*types.Service, error) {
	return m.store.GetServiceByName(name)
}

// ListServices returns all services
func (m *Manager) ListServices() ([]*types.Service, error) {
	return m.store.ListServices()
}

// GetTask retrieves a task by ID
func (m *Manager) GetTask(id string) (*types.Task, error) {
	return m.store.GetTask(id)
}

// ListTasks returns all tasks
func (m *Manager) ListTasks() ([]*types.Task, error) {
	return m.store.ListTasks()
}

// ListTasksByService returns all tasks for a service
func (m *Manager) ListTasksByService(serviceID string) ([]*types.Task, error) {
	return m.store.ListTasksByService(serviceID)
}

// ListTasksByNode returns all tasks on a node
func (m *Manager) ListTasksByNode(nodeID string) ([]*types.Task, error) {
	return m.store.ListTasksByNode(nodeID)
}

// ListAlertRules returns all alert rules
func (m *Manager) ListAlertRules() ([]*types.AlertRule, error) {
	return m.store.ListAlertRules()
}

// GetAlertRule retrieves an alert rule by name
func (m *Manager) GetAlertRule(name string) (*types.AlertRule, error) {
	return m.store.GetAlertRule(name)
}

// Store exposes the local read store to derived views (discovery, DNS)
func (m *Manager) Store() storage.Store {
	return m.store
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() error {
	if m.broker != nil {
		m.broker.Stop()
	}

	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}

	return nil
}
