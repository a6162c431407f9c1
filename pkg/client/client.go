package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/types"
)

// Client talks to the burrow control API over HTTP JSON. It is used by the
// CLI and is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// APIError is a non-2xx response from the control API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// NewClient creates a client for the API at addr, e.g. "localhost:8080"
func NewClient(addr string) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimSuffix(addr, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ApplyService submits a service spec, creating or updating it
func (c *Client) ApplyService(ctx context.Context, spec *types.Service) (*types.Service, error) {
	var out types.Service
	if err := c.do(ctx, http.MethodPost, "/v1/services", spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListServices returns all services
func (c *Client) ListServices(ctx context.Context) ([]*types.Service, error) {
	var out []*types.Service
	if err := c.do(ctx, http.MethodGet, "/v1/services", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetService returns a service by name
func (c *Client) GetService(ctx context.Context, name string) (*types.Service, error) {
	var out types.Service
	if err := c.do(ctx, http.MethodGet, "/v1/services/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveService requests removal of a service
func (c *Client) RemoveService(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/services/"+url.PathEscape(name), nil, nil)
}

// ScaleService changes a service's desired replica count
func (c *Client) ScaleService(ctx context.Context, name string, replicas int) error {
	body := map[string]int{"replicas": replicas}
	return c.do(ctx, http.MethodPost, "/v1/services/"+url.PathEscape(name)+"/scale", body, nil)
}

// Endpoints resolves a service's live endpoints
func (c *Client) Endpoints(ctx context.Context, name string) ([]*types.Endpoint, error) {
	var out []*types.Endpoint
	if err := c.do(ctx, http.MethodGet, "/v1/services/"+url.PathEscape(name)+"/endpoints", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ServiceTasks returns the tasks of a service
func (c *Client) ServiceTasks(ctx context.Context, name string) ([]*types.Task, error) {
	var out []*types.Task
	if err := c.do(ctx, http.MethodGet, "/v1/services/"+url.PathEscape(name)+"/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// JoinNode registers a node with the cluster
func (c *Client) JoinNode(ctx context.Context, node *types.Node) error {
	return c.do(ctx, http.MethodPost, "/v1/nodes", node, nil)
}

// ListNodes returns cluster nodes
func (c *Client) ListNodes(ctx context.Context) ([]*types.Node, error) {
	var out []*types.Node
	if err := c.do(ctx, http.MethodGet, "/v1/nodes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Heartbeat refreshes a node's liveness
func (c *Client) Heartbeat(ctx context.Context, nodeID string) error {
	return c.do(ctx, http.MethodPost, "/v1/nodes/"+url.PathEscape(nodeID)+"/heartbeat", nil, nil)
}

// DrainNode stops new placements on a node
func (c *Client) DrainNode(ctx context.Context, nodeID string) error {
	return c.do(ctx, http.MethodPost, "/v1/nodes/"+url.PathEscape(nodeID)+"/drain", nil, nil)
}

// LeaveNode removes a node from the cluster
func (c *Client) LeaveNode(ctx context.Context, nodeID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/nodes/"+url.PathEscape(nodeID), nil, nil)
}

// Query fetches raw samples for a metric over a time range
func (c *Client) Query(ctx context.Context, metric string, selector map[string]string, from, to time.Time) ([]types.Sample, error) {
	params := url.Values{}
	params.Set("metric", metric)
	if !from.IsZero() {
		params.Set("from", from.Format(time.RFC3339))
	}
	if !to.IsZero() {
		params.Set("to", to.Format(time.RFC3339))
	}
	for k, v := range selector {
		params.Set(k, v)
	}

	var out []types.Sample
	if err := c.do(ctx, http.MethodGet, "/v1/query?"+params.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutAlertRule creates or updates an alerting rule
func (c *Client) PutAlertRule(ctx context.Context, rule *types.AlertRule) error {
	return c.do(ctx, http.MethodPut, "/v1/alerts/rules", rule, nil)
}

// ListAlertRules returns all alerting rules
func (c *Client) ListAlertRules(ctx context.Context) ([]*types.AlertRule, error) {
	var out []*types.AlertRule
	if err := c.do(ctx, http.MethodGet, "/v1/alerts/rules", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAlertRule removes an alerting rule
func (c *Client) DeleteAlertRule(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/alerts/rules/"+url.PathEscape(name), nil, nil)
}

// Alerts returns live alert instances, optionally filtered by state
func (c *Client) Alerts(ctx context.Context, state string) ([]*types.Alert, error) {
	path := "/v1/alerts"
	if state != "" {
		path += "?state=" + url.QueryEscape(state)
	}
	var out []*types.Alert
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Events returns recent cluster events
func (c *Client) Events(ctx context.Context) ([]*events.Event, error) {
	var out []*events.Event
	if err := c.do(ctx, http.MethodGet, "/v1/events", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClusterJoin adds a manager to the Raft cluster via the current leader
func (c *Client) ClusterJoin(ctx context.Context, nodeID, address string) error {
	body := map[string]string{"node_id": nodeID, "address": address}
	return c.do(ctx, http.MethodPost, "/v1/cluster/join", body, nil)
}
