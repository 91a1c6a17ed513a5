package messaging

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/atvirokodosprendimai/rollout/internal/log"
	"github.com/nats-io/nats-server/v2/server"
)

// StartEmbedded runs an in-process NATS server listening on addr (host:port)
// and waits until it accepts connections.
func StartEmbedded(addr string) (*server.Server, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid nats listen address %q: %w", addr, err)
	}
	portInt, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid nats listen port %q: %w", port, err)
	}

	ns, err := server.NewServer(&server.Options{Host: host, Port: portInt, NoSigs: true})
	if err != nil {
		return nil, fmt.Errorf("could not start embedded NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(4 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("embedded NATS server did not become ready")
	}
	l := log.WithComponent("messaging")
	l.Info().Str("url", ns.ClientURL()).Msg("Embedded NATS server started")
	return ns, nil
}
