package engine

import (
	"fmt"
	"sync"

	"github.com/atvirokodosprendimai/rollout/internal/fleet"
)

// Pool caches one Client per host for the duration of a rollout.
// Parallel workers may share it.
type Pool struct {
	clients map[string]*Client // hostname -> client
	newFn   func(h *fleet.Host) (*Client, error)
	mu      sync.RWMutex
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		clients: make(map[string]*Client),
		newFn:   NewClient,
	}
}

// Client returns the cached client for h, creating it on first use.
func (p *Pool) Client(h *fleet.Host) (*Client, error) {
	p.mu.RLock()
	c, ok := p.clients[h.Hostname]
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[h.Hostname]; ok {
		return c, nil
	}
	c, err := p.newFn(h)
	if err != nil {
		return nil, err
	}
	p.clients[h.Hostname] = c
	return c, nil
}

// Dial is a fleet.Dialer backed by the pool.
func (p *Pool) Dial(h *fleet.Host) (fleet.Engine, error) {
	return p.Client(h)
}

// Len returns the number of cached clients.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// CloseAll closes every cached client and empties the pool.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for hostname, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close client for host %s: %w", hostname, err)
		}
		delete(p.clients, hostname)
	}
	return firstErr
}
