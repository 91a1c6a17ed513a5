// Package fleet fans operations out over the hosts of a rollout.
//
// A Group is built once from the resolved host entries and is read-only
// afterwards. Each runs an operation host by host and stops at the first
// failure; EachInParallel runs one worker per host and waits for all of them.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"slices"

	"github.com/atvirokodosprendimai/rollout/internal/dockercli"
	"github.com/atvirokodosprendimai/rollout/internal/log"
	"github.com/atvirokodosprendimai/rollout/internal/spec"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultEnginePort is used when a hostname carries no port.
const DefaultEnginePort = "2375"

var (
	ErrMissingHostname = errors.New("host entry has no hostname")
	ErrNoDialer        = errors.New("no engine dialer configured")
)

// Engine is the part of a host's engine API the rollout core calls.
type Engine interface {
	CurrentTags(ctx context.Context, image string) ([]string, error)
}

// Dialer returns the engine for a host.
type Dialer func(h *Host) (Engine, error)

// Host is the handle for one deployment target.
type Host struct {
	// Hostname as registered, possibly with a port.
	Hostname   string
	Addr       string
	Port       string
	Options    spec.HostOptions
	DockerPath string
	// TLS is shared by every host of the group. Do not modify.
	TLS *dockercli.TLS

	dial Dialer
}

// CLI returns a command builder for this host's engine endpoint.
func (h *Host) CLI() *dockercli.Invoker {
	return dockercli.NewInvoker(h.DockerPath, h.Addr, h.Port, h.TLS)
}

// Engine dials the host's engine.
func (h *Host) Engine() (Engine, error) {
	if h.dial == nil {
		return nil, ErrNoDialer
	}
	return h.dial(h)
}

// CurrentTags asks the host's engine which tags it holds for image.
func (h *Host) CurrentTags(ctx context.Context, image string) ([]string, error) {
	e, err := h.Engine()
	if err != nil {
		return nil, err
	}
	return e.CurrentTags(ctx, image)
}

func (h *Host) String() string {
	return h.Hostname
}

// Group owns the host handles of one rollout.
type Group struct {
	hosts       []*Host
	dockerPath  string
	tls         *dockercli.TLS
	parallelism int
	logger      zerolog.Logger
	dial        Dialer
}

// Option configures a Group.
type Option func(*Group)

// WithDialer sets how host handles reach their engine.
func WithDialer(d Dialer) Option {
	return func(g *Group) { g.dial = d }
}

// WithParallelism caps the number of concurrent workers in EachInParallel.
// Zero or less means one worker per host.
func WithParallelism(n int) Option {
	return func(g *Group) { g.parallelism = n }
}

// WithLogger replaces the logger used for progress notices.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Group) { g.logger = l }
}

// Build creates one handle per entry, in entry order. It performs no I/O.
func Build(entries []spec.HostEntry, dockerPath string, tls *dockercli.TLS, opts ...Option) (*Group, error) {
	if tls == nil {
		tls = &dockercli.TLS{}
	}
	g := &Group{
		dockerPath: dockerPath,
		tls:        tls,
		logger:     log.WithComponent("fleet"),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.hosts = make([]*Host, 0, len(entries))
	for i, e := range entries {
		if e.Hostname == "" {
			return nil, fmt.Errorf("host entry %d: %w", i, ErrMissingHostname)
		}
		addr, port := SplitHostname(e.Hostname)
		g.hosts = append(g.hosts, &Host{
			Hostname:   e.Hostname,
			Addr:       addr,
			Port:       port,
			Options:    e.Options,
			DockerPath: dockerPath,
			TLS:        tls,
			dial:       g.dial,
		})
	}
	return g, nil
}

// SplitHostname separates an optional port from hostname.
func SplitHostname(hostname string) (addr, port string) {
	addr, port, err := net.SplitHostPort(hostname)
	if err != nil {
		return hostname, DefaultEnginePort
	}
	if port == "" {
		port = DefaultEnginePort
	}
	return addr, port
}

// Hosts returns the host handles in registration order.
func (g *Group) Hosts() []*Host {
	return slices.Clone(g.hosts)
}

// Len returns the number of hosts.
func (g *Group) Len() int {
	return len(g.hosts)
}

// DockerPath returns the docker binary used by the hosts' CLI builders.
func (g *Group) DockerPath() string {
	return g.dockerPath
}

// Parallelism returns the worker cap of EachInParallel, zero for none.
func (g *Group) Parallelism() int {
	return g.parallelism
}

// TLS returns a copy of the group's TLS settings.
func (g *Group) TLS() dockercli.TLS {
	return *g.tls
}

// All iterates over the hosts in registration order.
func (g *Group) All() iter.Seq2[int, *Host] {
	return slices.All(g.hosts)
}

// Each runs fn on every host in registration order. It stops at the first
// failure and returns it as a *HostError.
func (g *Group) Each(fn func(h *Host) error) error {
	for _, h := range g.hosts {
		g.logger.Info().Str("host", h.Hostname).Msgf("Connecting to Docker on %s", h.Hostname)
		if err := fn(h); err != nil {
			return &HostError{Host: h.Hostname, Err: err}
		}
	}
	return nil
}

// EachInParallel runs fn on every host concurrently and returns once all
// workers have finished. A failing worker does not cancel its siblings; every
// failure is reported, in host order, as a *HostError joined with errors.Join.
func (g *Group) EachInParallel(ctx context.Context, fn func(ctx context.Context, h *Host) error) error {
	errs := make([]error, len(g.hosts))

	var eg errgroup.Group
	if g.parallelism > 0 {
		eg.SetLimit(g.parallelism)
	}
	for i, h := range g.hosts {
		eg.Go(func() error {
			g.logger.Info().Str("host", h.Hostname).Msgf("Connecting to Docker on %s", h.Hostname)
			if err := fn(ctx, h); err != nil {
				errs[i] = &HostError{Host: h.Hostname, Err: err}
			}
			return nil
		})
	}
	_ = eg.Wait()

	return errors.Join(errs...)
}

// Map applies fn to every host in registration order.
func Map[T any](g *Group, fn func(h *Host) T) []T {
	out := make([]T, 0, len(g.hosts))
	for _, h := range g.hosts {
		out = append(out, fn(h))
	}
	return out
}

// Filter returns the hosts for which keep returns true.
func Filter(g *Group, keep func(h *Host) bool) []*Host {
	var out []*Host
	for _, h := range g.hosts {
		if keep(h) {
			out = append(out, h)
		}
	}
	return out
}

// Reduce folds the hosts into a single value in registration order.
func Reduce[T any](g *Group, init T, fn func(acc T, h *Host) T) T {
	acc := init
	for _, h := range g.hosts {
		acc = fn(acc, h)
	}
	return acc
}
