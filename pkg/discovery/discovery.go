package discovery

import (
	"net"
	"sort"
	"strconv"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Resolver derives live endpoint sets from the committed task state. It
// reads the local store directly, so resolution never contends with
// reconciliation; the view may trail task state by one reconciliation
// interval and callers are expected to retry against another endpoint on
// connection failure.
type Resolver struct {
	store storage.Store
}

// NewResolver creates a resolver over the given store
func NewResolver(store storage.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the endpoints of a service's live tasks, ordered by task
// creation time so repeated calls see a stable ordering. Tasks that are not
// running, have been asked to shut down, or are failing their health check
// are excluded.
func (r *Resolver) Resolve(serviceName string) ([]*types.Endpoint, error) {
	service, err := r.store.GetServiceByName(serviceName)
	if err != nil {
		return nil, err
	}

	tasks, err := r.store.ListTasksByService(service.ID)
	if err != nil {
		return nil, err
	}

	live := make([]*types.Task, 0, len(tasks))
	for _, t := range tasks {
		if servable(t) {
			live = append(live, t)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].CreatedAt.Equal(live[j].CreatedAt) {
			return live[i].ID < live[j].ID
		}
		return live[i].CreatedAt.Before(live[j].CreatedAt)
	})

	endpoints := make([]*types.Endpoint, 0, len(live))
	for _, t := range live {
		endpoints = append(endpoints, &types.Endpoint{
			ServiceName: serviceName,
			TaskID:      t.ID,
			NodeID:      t.NodeID,
			Addr:        t.Address,
		})
	}
	return endpoints, nil
}

// servable reports whether a task should receive traffic. A task with a
// health check that has not been probed yet counts as servable.
func servable(t *types.Task) bool {
	if t.DesiredState != types.TaskStateRunning || t.ActualState != types.TaskStateRunning {
		return false
	}
	if t.Address == "" {
		return false
	}
	if t.HealthCheck != nil && t.HealthStatus != nil && !t.HealthStatus.Healthy {
		return false
	}
	return true
}

// Targets derives scrape targets from the live endpoints of every service
// that declares a metrics endpoint.
func (r *Resolver) Targets() ([]*types.Target, error) {
	services, err := r.store.ListServices()
	if err != nil {
		return nil, err
	}

	var targets []*types.Target
	for _, service := range services {
		mc := service.Metrics
		if mc == nil {
			continue
		}

		endpoints, err := r.Resolve(service.Name)
		if err != nil {
			continue
		}

		path := mc.Path
		if path == "" {
			path = "/metrics"
		}
		for _, ep := range endpoints {
			targets = append(targets, &types.Target{
				ID:       service.Name + "/" + ep.TaskID,
				Addr:     metricsAddr(ep.Addr, mc.Port),
				Path:     path,
				Interval: mc.Interval,
				Labels: map[string]string{
					"service":  service.Name,
					"task_id":  ep.TaskID,
					"node_id":  ep.NodeID,
					"instance": ep.Addr,
				},
			})
		}
	}
	return targets, nil
}

// metricsAddr swaps the serving port of an endpoint address for the
// service's metrics port, when one is declared
func metricsAddr(addr string, port int) string {
	if port == 0 {
		return addr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
