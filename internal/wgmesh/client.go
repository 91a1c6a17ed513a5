// Package wgmesh lists the peers of a wg-mesh network through the daemon's
// control socket. The socket speaks JSON-RPC 2.0, one object per line.
package wgmesh

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
)

// Peer is one member of the mesh.
type Peer struct {
	Name     string `json:"name"`
	PubKey   string `json:"pubkey"`
	MeshIP   string `json:"mesh_ip"`
	Endpoint string `json:"endpoint"`
	LastSeen string `json:"last_seen"`
}

// RPCError is an error object returned by the daemon.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("wg-mesh: %s (code %d)", e.Message, e.Code)
}

type request struct {
	Version string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// Client talks to one control socket. Every call opens its own connection.
type Client struct {
	socketPath string
}

// NewClient returns a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// GetPeers returns the peers known to the daemon.
func (c *Client) GetPeers(ctx context.Context) ([]*Peer, error) {
	var res struct {
		Peers []*Peer `json:"peers"`
	}
	if err := c.call(ctx, "peers.list", nil, &res); err != nil {
		return nil, err
	}
	return res.Peers, nil
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial wg-mesh socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	line, err := json.Marshal(request{Version: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	reply, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read %s reply: %w", method, err)
	}
	var resp response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
