package manager

import (
	"fmt"
	"reflect"
	"time"

	"github.com/cuemby/burrow/pkg/alerts"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
)

// ValidationError reports a rejected submission. The desired state is left
// unchanged; this is the only error class surfaced synchronously to the
// submitter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NodeFilter selects a subset of nodes in ListNodes
type NodeFilter struct {
	Role            types.NodeRole
	Status          types.NodeStatus
	SchedulableOnly bool
}

// JoinNode registers a node with the cluster
func (m *Manager) JoinNode(node *types.Node) error {
	if node.ID == "" {
		return &ValidationError{Field: "node.id", Reason: "must not be empty"}
	}
	if node.Address == "" {
		return &ValidationError{Field: "node.address", Reason: "must not be empty"}
	}
	if node.Role == "" {
		node.Role = types.NodeRoleWorker
	}
	if node.Role != types.NodeRoleManager && node.Role != types.NodeRoleWorker {
		return &ValidationError{Field: "node.role", Reason: fmt.Sprintf("unknown role %q", node.Role)}
	}

	node.Availability = types.NodeAvailabilityActive
	node.Status = types.NodeStatusReady
	now := time.Now()
	node.LastHeartbeat = now
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}

	if err := m.apply("create_node", node); err != nil {
		return err
	}

	m.publish(events.EventNodeJoined, fmt.Sprintf("node %s joined", node.ID),
		map[string]string{"node_id": node.ID, "role": string(node.Role)})
	return nil
}

// Heartbeat records a liveness report from a node. A node that was
// unreachable becomes ready again; its tasks were already rescheduled.
func (m *Manager) Heartbeat(nodeID string) error {
	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return err
	}

	node.LastHeartbeat = time.Now()
	node.Status = types.NodeStatusReady
	return m.apply("update_node", node)
}

// DrainNode stops new placements on a node without evicting existing tasks
func (m *Manager) DrainNode(nodeID string) error {
	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return err
	}

	node.Availability = types.NodeAvailabilityDrain
	if err := m.apply("update_node", node); err != nil {
		return err
	}

	m.publish(events.EventNodeDrained, fmt.Sprintf("node %s draining", nodeID),
		map[string]string{"node_id": nodeID})
	return nil
}

// LeaveNode removes a node from the registry. Tasks still referencing it
// are failed and rescheduled by the reconciler.
func (m *Manager) LeaveNode(nodeID string) error {
	if _, err := m.store.GetNode(nodeID); err != nil {
		return err
	}

	if err := m.apply("delete_node", nodeID); err != nil {
		return err
	}

	m.publish(events.EventNodeLeft, fmt.Sprintf("node %s left", nodeID),
		map[string]string{"node_id": nodeID})
	return nil
}

// UpdateNode persists a node record change (used by the reconciler to mark
// nodes unreachable)
func (m *Manager) UpdateNode(node *types.Node) error {
	return m.apply("update_node", node)
}

// ListNodes returns nodes matching the filter (nil = all)
func (m *Manager) ListNodes(filter *NodeFilter) ([]*types.Node, error) {
	nodes, err := m.store.ListNodes()
	if err != nil {
		return nil, err
	}
	if filter == nil {
		return nodes, nil
	}

	var out []*types.Node
	for _, node := range nodes {
		if filter.Role != "" && node.Role != filter.Role {
			continue
		}
		if filter.Status != "" && node.Status != filter.Status {
			continue
		}
		if filter.SchedulableOnly && !node.Schedulable() {
			continue
		}
		out = append(out, node)
	}
	return out, nil
}

// ApplyService validates and upserts a service spec. Re-submission of an
// identical spec is a no-op; the returned bool reports whether the desired
// state changed.
func (m *Manager) ApplyService(spec *types.Service) (*types.Service, bool, error) {
	if err := validateService(spec); err != nil {
		return nil, false, err
	}

	now := time.Now()
	existing, err := m.store.GetServiceByName(spec.Name)
	if err == nil {
		if serviceSpecEqual(existing, spec) {
			return existing, false, nil
		}

		spec.ID = existing.ID
		spec.CreatedAt = existing.CreatedAt
		spec.UpdatedAt = now
		spec.Removing = false
		if err := m.apply("update_service", spec); err != nil {
			return nil, false, err
		}

		m.publish(events.EventServiceApplied, fmt.Sprintf("service %s updated", spec.Name),
			map[string]string{"service_id": spec.ID, "service": spec.Name})
		return spec, true, nil
	}

	spec.ID = uuid.New().String()
	spec.CreatedAt = now
	spec.UpdatedAt = now
	if err := m.apply("create_service", spec); err != nil {
		return nil, false, err
	}

	m.publish(events.EventServiceApplied, fmt.Sprintf("service %s created", spec.Name),
		map[string]string{"service_id": spec.ID, "service": spec.Name})
	return spec, true, nil
}

// ScaleService changes the desired replica count of a service
func (m *Manager) ScaleService(name string, replicas int) error {
	if replicas < 0 {
		return &ValidationError{Field: "replicas", Reason: "must be >= 0"}
	}

	service, err := m.store.GetServiceByName(name)
	if err != nil {
		return err
	}

	service.Replicas = replicas
	service.UpdatedAt = time.Now()
	if err := m.apply("update_service", service); err != nil {
		return err
	}

	m.publish(events.EventServiceApplied, fmt.Sprintf("service %s scaled to %d", name, replicas),
		map[string]string{"service_id": service.ID, "service": name})
	return nil
}

// RemoveService requests removal of a service. Desired replicas drop to
// zero immediately; the scheduler drains tasks and deletes the record once
// none remain, so no connections are dropped abruptly.
func (m *Manager) RemoveService(name string) error {
	service, err := m.store.GetServiceByName(name)
	if err != nil {
		return err
	}
	if service.Removing {
		return nil
	}

	service.Replicas = 0
	service.Removing = true
	service.UpdatedAt = time.Now()
	if err := m.apply("update_service", service); err != nil {
		return err
	}

	m.publish(events.EventServiceRemoved, fmt.Sprintf("service %s removal requested", name),
		map[string]string{"service_id": service.ID, "service": name})
	return nil
}

// DeleteService removes the service record outright. Used by the scheduler
// once a removed service has fully drained.
func (m *Manager) DeleteService(id string) error {
	return m.apply("delete_service", id)
}

// PutAlertRule validates and upserts an alerting rule
func (m *Manager) PutAlertRule(rule *types.AlertRule) error {
	if rule.Name == "" {
		return &ValidationError{Field: "rule.name", Reason: "must not be empty"}
	}
	if _, err := alerts.ParseExpr(rule.Expr); err != nil {
		return &ValidationError{Field: "rule.expr", Reason: err.Error()}
	}
	if rule.For < 0 {
		return &ValidationError{Field: "rule.for", Reason: "must be >= 0"}
	}

	rule.UpdatedAt = time.Now()
	return m.apply("put_alert_rule", rule)
}

// DeleteAlertRule removes an alerting rule by name
func (m *Manager) DeleteAlertRule(name string) error {
	if _, err := m.store.GetAlertRule(name); err != nil {
		return err
	}
	return m.apply("delete_alert_rule", name)
}

func validateService(spec *types.Service) error {
	if spec.Name == "" {
		return &ValidationError{Field: "service.name", Reason: "must not be empty"}
	}
	if spec.Image == "" {
		return &ValidationError{Field: "service.image", Reason: "must not be empty"}
	}
	if spec.Replicas < 0 {
		return &ValidationError{Field: "service.replicas", Reason: "must be >= 0"}
	}
	if c := spec.Constraints; c != nil {
		if c.Role != "" && c.Role != types.NodeRoleManager && c.Role != types.NodeRoleWorker {
			return &ValidationError{Field: "service.constraints.role", Reason: fmt.Sprintf("unknown role %q", c.Role)}
		}
		if c.MaxReplicasPerNode < 0 {
			return &ValidationError{Field: "service.constraints.max_replicas_per_node", Reason: "must be >= 0"}
		}
	}
	if u := spec.UpdateConfig; u != nil && u.MaxUnavailable < 0 {
		return &ValidationError{Field: "service.update_config.max_unavailable", Reason: "must be >= 0"}
	}
	return nil
}

// serviceSpecEqual compares two specs ignoring server-assigned fields
func serviceSpecEqual(a, b *types.Service) bool {
	if a.Removing {
		return false
	}
	ca, cb := *a, *b
	ca.ID, cb.ID = "", ""
	ca.CreatedAt, cb.CreatedAt = time.Time{}, time.Time{}
	ca.UpdatedAt, cb.UpdatedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(ca, cb)
}
