package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/atvirokodosprendimai/rollout/internal/recipe"
	"github.com/atvirokodosprendimai/rollout/internal/wgmesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	peers []*wgmesh.Peer
	err   error
}

func (f fakeLister) GetPeers(context.Context) ([]*wgmesh.Peer, error) {
	return f.peers, f.err
}

func TestMeshHosts(t *testing.T) {
	lister := fakeLister{peers: []*wgmesh.Peer{
		{PubKey: "k1", MeshIP: "10.99.0.2"},
		{PubKey: "k2"},
		{PubKey: "k3", MeshIP: "fd00::3"},
		{PubKey: "k4", MeshIP: "10.99.0.2"},
		nil,
	}}

	hosts, err := MeshHosts(context.Background(), lister, "2376")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.99.0.2:2376", "[fd00::3]:2376"}, hosts)

	hosts, err = MeshHosts(context.Background(), lister, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.99.0.2", "fd00::3"}, hosts)
}

func TestMeshHosts_Error(t *testing.T) {
	_, err := MeshHosts(context.Background(), fakeLister{err: errors.New("socket gone")}, "2375")
	assert.ErrorContains(t, err, "socket gone")
}

func TestRegister(t *testing.T) {
	cfg := recipe.New()
	require.NoError(t, cfg.AddHost("static1", recipe.HostOptions{}))

	lister := fakeLister{peers: []*wgmesh.Peer{{MeshIP: "10.99.0.2"}, {MeshIP: "10.99.0.3"}}}
	require.NoError(t, Register(context.Background(), cfg, lister, "2375"))

	require.Len(t, cfg.Hosts, 3)
	assert.Equal(t, "static1", cfg.Hosts[0].Hostname)
	assert.Equal(t, "10.99.0.3:2375", cfg.Hosts[2].Hostname)

	g, err := cfg.BuildGroup()
	require.NoError(t, err)
	hosts := g.Hosts()
	assert.Equal(t, "10.99.0.2", hosts[1].Addr)
	assert.Equal(t, "2375", hosts[1].Port)
}
