package types

import (
	"fmt"
	"hash/fnv"
	"sort"
	"time"
)

// Node represents a manager or worker node in the cluster
type Node struct {
	ID            string
	Role          NodeRole
	Availability  NodeAvailability
	Address       string // Host IP address
	Hostname      string
	Labels        map[string]string
	Resources     *NodeResources
	Status        NodeStatus
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// NodeRole defines the role of a node
type NodeRole string

const (
	NodeRoleManager NodeRole = "manager"
	NodeRoleWorker  NodeRole = "worker"
)

// NodeStatus represents the current observed state of a node
type NodeStatus string

const (
	NodeStatusReady       NodeStatus = "ready"
	NodeStatusUnreachable NodeStatus = "unreachable"
	NodeStatusUnknown     NodeStatus = "unknown"
)

// NodeAvailability controls whether a node accepts new placements.
// Draining prevents new tasks but does not evict existing ones.
type NodeAvailability string

const (
	NodeAvailabilityActive NodeAvailability = "active"
	NodeAvailabilityDrain  NodeAvailability = "drain"
)

// NodeResources tracks resource capacity and allocation
type NodeResources struct {
	// Total capacity
	CPUCores    int
	MemoryBytes int64

	// Currently allocated (reserved by tasks)
	CPUAllocated    float64
	MemoryAllocated int64
}

// Schedulable reports whether new tasks may be placed on the node
func (n *Node) Schedulable() bool {
	return n.Status == NodeStatusReady && n.Availability != NodeAvailabilityDrain
}

// Service represents a user-defined replicated workload
type Service struct {
	ID           string
	Name         string
	Image        string
	Replicas     int
	Constraints  *PlacementConstraints
	UpdateConfig *UpdateConfig
	Env          []string
	Ports        []*PortMapping
	Labels       map[string]string
	HealthCheck  *HealthCheck
	Resources    *ResourceRequirements
	Metrics      *MetricsConfig

	// Removing marks a service whose removal was requested. Desired replicas
	// are already zero; the record is deleted once all tasks have drained.
	Removing bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlacementConstraints restrict which nodes a service's tasks may land on
type PlacementConstraints struct {
	Role               NodeRole          // empty = any role
	NodeLabels         map[string]string // all must match
	MaxReplicasPerNode int               // 0 = unlimited
}

// UpdateConfig controls how rolling updates and scale-downs are performed
type UpdateConfig struct {
	MaxUnavailable int           // Max replicas down per reconciliation pass (min 1)
	Delay          time.Duration // Delay between batches
}

// MaxUnavailableOrDefault clamps MaxUnavailable to at least one replica
func (u *UpdateConfig) MaxUnavailableOrDefault() int {
	if u == nil || u.MaxUnavailable < 1 {
		return 1
	}
	return u.MaxUnavailable
}

// PortMapping defines port exposure
type PortMapping struct {
	Name          string
	ContainerPort int
	HostPort      int
	Protocol      string // "tcp" or "udp"
}

// MetricsConfig declares how tasks of a service are scraped
type MetricsConfig struct {
	Path     string        // Metrics path, e.g. "/metrics"
	Port     int           // Port the metrics endpoint listens on
	Interval time.Duration // Scrape interval (0 = engine default)
}

// HealthCheck defines task health probing
type HealthCheck struct {
	Type     HealthCheckType // "http" or "tcp"
	Path     string          // For http type
	Port     int
	Interval time.Duration
	Timeout  time.Duration
	Retries  int // Consecutive failures before the task is replaced
}

// HealthCheckType defines the type of health check
type HealthCheckType string

const (
	HealthCheckHTTP HealthCheckType = "http"
	HealthCheckTCP  HealthCheckType = "tcp"
)

// HealthStatus tracks the current health state of a task
type HealthStatus struct {
	Healthy              bool
	Message              string
	CheckedAt            time.Time
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

// ResourceRequirements defines resource limits and reservations
type ResourceRequirements struct {
	CPULimit          float64 // Cores (e.g. 0.5 = half a core)
	MemoryLimit       int64   // Bytes
	CPUReservation    float64
	MemoryReservation int64
}

// Task represents a single running instance of a service
type Task struct {
	ID           string
	ServiceID    string
	ServiceName  string
	NodeID       string
	DesiredState TaskState
	ActualState  TaskState
	Image        string
	SpecHash     string // Hash of the service spec this task was created from
	Address      string // host:port the task is reachable at once running
	Env          []string
	Ports        []*PortMapping
	HealthCheck  *HealthCheck
	HealthStatus *HealthStatus
	Resources    *ResourceRequirements
	CreatedAt    time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	Error        string
}

// TaskState represents the state of a task
type TaskState string

const (
	TaskStatePending  TaskState = "pending"
	TaskStateRunning  TaskState = "running"
	TaskStateFailed   TaskState = "failed"
	TaskStateShutdown TaskState = "shutdown"
)

// Active reports whether the task counts toward a service's running set
func (t *Task) Active() bool {
	return t.DesiredState == TaskStateRunning &&
		(t.ActualState == TaskStatePending || t.ActualState == TaskStateRunning)
}

// Endpoint is the routable address of a live task, derived by discovery.
// Never persisted independently of its task.
type Endpoint struct {
	ServiceName string
	TaskID      string
	NodeID      string
	Addr        string // host:port
}

// Target is a scrape source polled by the metrics engine
type Target struct {
	ID       string
	Addr     string // host:port
	Path     string // e.g. "/metrics"
	Interval time.Duration
	Labels   map[string]string
}

// Sample is a single scraped datapoint. Immutable once stored.
type Sample struct {
	Name      string
	Labels    map[string]string
	Value     float64
	Timestamp time.Time
}

// AlertRule is a stateless alerting rule definition
type AlertRule struct {
	Name      string
	Expr      string        // e.g. `cpu_usage{role="worker"} > 90`
	For       time.Duration // Condition must hold continuously before firing
	Interval  time.Duration // Evaluation interval (0 = evaluator default)
	Labels    map[string]string
	UpdatedAt time.Time
}

// AlertState is the state machine position of a (rule, label-set) instance
type AlertState string

const (
	AlertStateInactive AlertState = "inactive"
	AlertStatePending  AlertState = "pending"
	AlertStateFiring   AlertState = "firing"
	AlertStateResolved AlertState = "resolved"
)

// Alert is a live (rule, label-set) instance managed by the evaluator
type Alert struct {
	RuleName string
	Labels   map[string]string
	State    AlertState
	Value    float64
	ActiveAt time.Time // When the condition first crossed the threshold
	FiredAt  time.Time
}

// SpecHash returns a stable hash of the fields of a service that require
// task replacement when changed. Replica count and update policy are
// deliberately excluded.
func (s *Service) SpecHash() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%v|", s.Image, s.Env)
	for _, p := range s.Ports {
		fmt.Fprintf(h, "%d:%d/%s|", p.ContainerPort, p.HostPort, p.Protocol)
	}
	if s.Resources != nil {
		fmt.Fprintf(h, "%f:%d|", s.Resources.CPULimit, s.Resources.MemoryLimit)
	}
	if s.HealthCheck != nil {
		fmt.Fprintf(h, "%s:%s:%d|", s.HealthCheck.Type, s.HealthCheck.Path, s.HealthCheck.Port)
	}
	return fmt.Sprintf("%x", h.Sum64())
}

// LabelsKey returns a canonical string form of a label set, used to key
// per-instance alert state.
func LabelsKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += k + "=" + labels[k] + ","
	}
	return out
}
