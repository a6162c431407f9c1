package storage

import (
	"errors"

	"github.com/cuemby/burrow/pkg/types"
)

// ErrNotFound is returned when a record does not exist in the store
var ErrNotFound = errors.New("not found")

// Store defines the interface for cluster state storage
type Store interface {
	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Services
	CreateService(service *types.Service) error
	GetService(id string) (*types.Service, error)
	GetServiceByName(name string) (*types.Service, error)
	ListServices() ([]*types.Service, error)
	UpdateService(service *types.Service) error
	DeleteService(id string) error

	// Tasks
	CreateTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	ListTasksByService(serviceID string) ([]*types.Task, error)
	ListTasksByNode(nodeID string) ([]*types.Task, error)
	UpdateTask(task *types.Task) error
	DeleteTask(id string) error

	// Alert rules, keyed by name
	PutAlertRule(rule *types.AlertRule) error
	GetAlertRule(name string) (*types.AlertRule, error)
	ListAlertRules() ([]*types.AlertRule, error)
	DeleteAlertRule(name string) error

	// Utility
	Close() error
}
