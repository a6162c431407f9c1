package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/types"
)

// nodeRegistry is where self-registration and heartbeats land. The
// in-process manager serves it while this process holds leadership;
// otherwise calls are forwarded to another manager's API.
type nodeRegistry interface {
	JoinNode(ctx context.Context, node *types.Node) error
	Heartbeat(ctx context.Context, nodeID string) error
}

// localRegistry adapts the in-process manager to nodeRegistry.
type localRegistry struct {
	mgr *manager.Manager
}

func (l localRegistry) JoinNode(_ context.Context, node *types.Node) error {
	return l.mgr.JoinNode(node)
}

func (l localRegistry) Heartbeat(_ context.Context, nodeID string) error {
	return l.mgr.Heartbeat(nodeID)
}

// selfRegistrar keeps this manager present in the node registry. Node
// writes must land on the leader, so each call picks the local manager or
// the remote peer based on current leadership.
type selfRegistrar struct {
	local    nodeRegistry
	remote   nodeRegistry // nil when no peer address is known
	isLeader func() bool
	node     *types.Node
}

func (r *selfRegistrar) registry() nodeRegistry {
	if r.remote != nil && !r.isLeader() {
		return r.remote
	}
	return r.local
}

func (r *selfRegistrar) register(ctx context.Context) error {
	return r.registry().JoinNode(ctx, r.node)
}

func (r *selfRegistrar) heartbeat(ctx context.Context) error {
	return r.registry().Heartbeat(ctx, r.node.ID)
}

// registerSelf joins this manager into the node registry and keeps its
// heartbeat fresh. A bootstrapping manager applies both directly once it
// wins the election; a joining manager forwards them to the peer named by
// joinAddr until it becomes leader itself.
func registerSelf(mgr *manager.Manager, cfg *config.Config, joinAddr string) {
	logger := log.WithComponent("main")

	node := &types.Node{
		ID:      cfg.Node.ID,
		Role:    types.NodeRoleManager,
		Address: cfg.Node.Address,
	}
	if hostname, err := os.Hostname(); err == nil {
		node.Hostname = hostname
	}

	reg := &selfRegistrar{
		local:    localRegistry{mgr},
		isLeader: mgr.IsLeader,
		node:     node,
	}
	if joinAddr != "" {
		reg.remote = client.NewClient(joinAddr)
	}

	ctx := context.Background()
	for {
		err := reg.register(ctx)
		if err == nil {
			break
		}
		// ErrNotLeader just means the election has not settled yet.
		if !errors.Is(err, manager.ErrNotLeader) {
			logger.Error().Err(err).Msg("Failed to register local node")
		}
		time.Sleep(time.Second)
	}

	interval := cfg.Scheduler.HeartbeatTimeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := reg.heartbeat(ctx); err != nil {
			logger.Error().Err(err).Msg("Local heartbeat failed")
		}
	}
}
