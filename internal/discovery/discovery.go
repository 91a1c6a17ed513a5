// Package discovery turns wg-mesh peers into rollout hosts.
package discovery

import (
	"context"
	"fmt"
	"net"

	"github.com/atvirokodosprendimai/rollout/internal/log"
	"github.com/atvirokodosprendimai/rollout/internal/recipe"
	"github.com/atvirokodosprendimai/rollout/internal/wgmesh"
)

// PeerLister lists the peers of a mesh. *wgmesh.Client implements it.
type PeerLister interface {
	GetPeers(ctx context.Context) ([]*wgmesh.Peer, error)
}

// MeshHosts returns one hostname "<mesh_ip>:<port>" per peer, in the order
// the mesh reports them. Peers without a mesh IP and repeated IPs are skipped.
func MeshHosts(ctx context.Context, lister PeerLister, port string) ([]string, error) {
	logger := log.WithComponent("discovery")
	logger.Info().Msg("Syncing peers from wg-mesh...")

	peers, err := lister.GetPeers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get peers from wg-mesh: %w", err)
	}

	seen := make(map[string]bool, len(peers))
	hosts := make([]string, 0, len(peers))
	for _, peer := range peers {
		if peer == nil || peer.MeshIP == "" {
			continue
		}
		if seen[peer.MeshIP] {
			continue
		}
		seen[peer.MeshIP] = true

		hostname := peer.MeshIP
		if port != "" {
			hostname = net.JoinHostPort(peer.MeshIP, port)
		}
		logger.Debug().Str("pubkey", peer.PubKey).Str("host", hostname).Msg("Discovered peer")
		hosts = append(hosts, hostname)
	}
	logger.Info().Int("peers", len(hosts)).Msg("Discovered peers in the mesh")
	return hosts, nil
}

// Register adds every mesh peer to cfg as a host without per-host options.
func Register(ctx context.Context, cfg *recipe.Config, lister PeerLister, port string) error {
	hosts, err := MeshHosts(ctx, lister, port)
	if err != nil {
		return err
	}
	for _, h := range hosts {
		if err := cfg.AddHost(h, recipe.HostOptions{}); err != nil {
			return err
		}
	}
	return nil
}
