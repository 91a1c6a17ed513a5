package wgmesh

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve answers one request on a fresh unix socket with reply.
func serve(t *testing.T, reply string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wgmesh.sock")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadBytes('\n')
		if err != nil {
			return
		}
		var req request
		if json.Unmarshal(line, &req) != nil || req.Method != "peers.list" {
			_, _ = conn.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32601,"message":"method not found"},"id":1}` + "\n"))
			return
		}
		_, _ = conn.Write([]byte(reply + "\n"))
	}()
	return path
}

func TestGetPeers(t *testing.T) {
	path := serve(t, `{"jsonrpc":"2.0","result":{"peers":[{"name":"n1","pubkey":"k1","mesh_ip":"10.99.0.2"},{"name":"n2","pubkey":"k2","mesh_ip":"10.99.0.3"}]},"id":1}`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	peers, err := NewClient(path).GetPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "10.99.0.2", peers[0].MeshIP)
	assert.Equal(t, "k2", peers[1].PubKey)
}

func TestGetPeers_RPCError(t *testing.T) {
	path := serve(t, `{"jsonrpc":"2.0","error":{"code":-32000,"message":"mesh down"},"id":1}`)

	_, err := NewClient(path).GetPeers(context.Background())
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32000, rpcErr.Code)
}

func TestGetPeers_NoSocket(t *testing.T) {
	_, err := NewClient(filepath.Join(t.TempDir(), "missing.sock")).GetPeers(context.Background())
	assert.ErrorContains(t, err, "dial wg-mesh socket")
}
