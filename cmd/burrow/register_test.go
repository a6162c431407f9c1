package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

type fakeRegistry struct {
	joins      []*types.Node
	heartbeats []string
	err        error
}

func (f *fakeRegistry) JoinNode(_ context.Context, node *types.Node) error {
	f.joins = append(f.joins, node)
	return f.err
}

func (f *fakeRegistry) Heartbeat(_ context.Context, nodeID string) error {
	f.heartbeats = append(f.heartbeats, nodeID)
	return f.err
}

func newTestRegistrar(leader bool) (*selfRegistrar, *fakeRegistry, *fakeRegistry) {
	local := &fakeRegistry{}
	remote := &fakeRegistry{}
	reg := &selfRegistrar{
		local:    local,
		remote:   remote,
		isLeader: func() bool { return leader },
		node:     &types.Node{ID: "mgr-1", Role: types.NodeRoleManager},
	}
	return reg, local, remote
}

func TestFollowerRegistersThroughPeer(t *testing.T) {
	reg, local, remote := newTestRegistrar(false)

	require.NoError(t, reg.register(context.Background()))
	require.NoError(t, reg.heartbeat(context.Background()))

	require.Len(t, remote.joins, 1)
	assert.Equal(t, "mgr-1", remote.joins[0].ID)
	assert.Equal(t, []string{"mgr-1"}, remote.heartbeats)
	assert.Empty(t, local.joins)
	assert.Empty(t, local.heartbeats)
}

func TestLeaderRegistersLocally(t *testing.T) {
	reg, local, remote := newTestRegistrar(true)

	require.NoError(t, reg.register(context.Background()))
	require.NoError(t, reg.heartbeat(context.Background()))

	require.Len(t, local.joins, 1)
	assert.Equal(t, []string{"mgr-1"}, local.heartbeats)
	assert.Empty(t, remote.joins)
	assert.Empty(t, remote.heartbeats)
}

func TestBootstrapWithoutPeerUsesLocal(t *testing.T) {
	local := &fakeRegistry{}
	reg := &selfRegistrar{
		local:    local,
		isLeader: func() bool { return false },
		node:     &types.Node{ID: "mgr-1"},
	}

	require.NoError(t, reg.register(context.Background()))
	require.Len(t, local.joins, 1)
}

func TestHeartbeatFollowsLeadershipChange(t *testing.T) {
	local := &fakeRegistry{}
	remote := &fakeRegistry{}
	leader := false
	reg := &selfRegistrar{
		local:    local,
		remote:   remote,
		isLeader: func() bool { return leader },
		node:     &types.Node{ID: "mgr-1"},
	}

	require.NoError(t, reg.heartbeat(context.Background()))
	leader = true
	require.NoError(t, reg.heartbeat(context.Background()))

	assert.Equal(t, []string{"mgr-1"}, remote.heartbeats)
	assert.Equal(t, []string{"mgr-1"}, local.heartbeats)
}
