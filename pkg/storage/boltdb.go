package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/burrow/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketNodes      = []byte("nodes")
	bucketServices   = []byte("services")
	bucketTasks      = []byte("tasks")
	bucketAlertRules = []byte("alert_rules")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketNodes,
			bucketServices,
			bucketTasks,
			bucketAlertRules,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// put marshals a record into the given bucket under key
func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// get unmarshals the record stored under key in bucket into v
func (s *BoltStore) get(bucket []byte, key string, v interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s %q: %w", bucket, key, ErrNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// Node operations

func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.put(bucketNodes, node.ID, node)
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	if err := s.get(bucketNodes, id, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(node *types.Node) error {
	return s.CreateNode(node) // Upsert
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.delete(bucketNodes, id)
}

// Service operations

func (s *BoltStore) CreateService(service *types.Service) error {
	return s.put(bucketServices, service.ID, service)
}

func (s *BoltStore) GetService(id string) (*types.Service, error) {
	var service types.Service
	if err := s.get(bucketServices, id, &service); err != nil {
		return nil, err
	}
	return &service, nil
}

func (s *BoltStore) GetServiceByName(name string) (*types.Service, error) {
	var found *types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).ForEach(func(k, v []byte) error {
			var service types.Service
			if err := json.Unmarshal(v, &service); err != nil {
				return err
			}
			if service.Name == name {
				found = &service
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("service %q: %w", name, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListServices() ([]*types.Service, error) {
	var services []*types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).ForEach(func(k, v []byte) error {
			var service types.Service
			if err := json.Unmarshal(v, &service); err != nil {
				return err
			}
			services = append(services, &service)
			return nil
		})
	})
	return services, err
}

func (s *BoltStore) UpdateService(service *types.Service) error {
	return s.CreateService(service)
}

func (s *BoltStore) DeleteService(id string) error {
	return s.delete(bucketServices, id)
}

// Task operations

func (s *BoltStore) CreateTask(task *types.Task) error {
	return s.put(bucketTasks, task.ID, task)
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	if err := s.get(bucketTasks, id, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	return tasks, err
}

func (s *BoltStore) ListTasksByService(serviceID string) ([]*types.Task, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Task
	for _, task := range tasks {
		if task.ServiceID == serviceID {
			filtered = append(filtered, task)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListTasksByNode(nodeID string) ([]*types.Task, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Task
	for _, task := range tasks {
		if task.NodeID == nodeID {
			filtered = append(filtered, task)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateTask(task *types.Task) error {
	return s.CreateTask(task)
}

func (s *BoltStore) DeleteTask(id string) error {
	return s.delete(bucketTasks, id)
}

// Alert rule operations

func (s *BoltStore) PutAlertRule(rule *types.AlertRule) error {
	return s.put(bucketAlertRules, rule.Name, rule)
}

func (s *BoltStore) GetAlertRule(name string) (*types.AlertRule, error) {
	var rule types.AlertRule
	if err := s.get(bucketAlertRules, name, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *BoltStore) ListAlertRules() ([]*types.AlertRule, error) {
	var rules []*types.AlertRule
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlertRules).ForEach(func(k, v []byte) error {
			var rule types.AlertRule
			if err := json.Unmarshal(v, &rule); err != nil {
				return err
			}
			rules = append(rules, &rule)
			return nil
		})
	})
	return rules, err
}

func (s *BoltStore) DeleteAlertRule(name string) error {
	return s.delete(bucketAlertRules, name)
}
