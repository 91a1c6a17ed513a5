// Package recipe accumulates a rollout configuration and hands it to the
// host group. Registration calls validate their input immediately, so a bad
// recipe fails before any host is contacted.
package recipe

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"

	"github.com/atvirokodosprendimai/rollout/internal/dockercli"
	"github.com/atvirokodosprendimai/rollout/internal/fleet"
	"github.com/atvirokodosprendimai/rollout/internal/spec"
)

// DefaultDockerPath is the docker binary used when the recipe names none.
const DefaultDockerPath = "docker"

// DefaultEndpoint is assumed when DOCKER_HOST is unset.
const DefaultEndpoint = "tcp://127.0.0.1"

// TLSSettings is the TLS material named in a recipe.
type TLSSettings struct {
	Verify bool
	CACert string
	Cert   string
	Key    string
}

// Config is the configuration of one rollout. It is filled by the
// registration methods, then consumed by BuildGroup; it is not safe for
// concurrent use.
type Config struct {
	Hosts        []spec.HostEntry
	EnvVars      map[string]string
	PortBindings spec.PortBindings
	Binds        []string
	TLS          TLSSettings

	// Passed through to the engine untouched.
	Registry  string
	Memory    int64
	CPUShares int64
	Command   []string

	DockerPath string
	Image      string
	Tag        string

	// Parallelism caps concurrent hosts in parallel actions; zero means all.
	Parallelism int
}

// New returns an empty Config.
func New() *Config {
	return &Config{
		EnvVars:      map[string]string{},
		PortBindings: spec.PortBindings{},
		DockerPath:   DefaultDockerPath,
	}
}

// RegisterHost validates a raw option bag and adds the host.
func (c *Config) RegisterHost(hostname string, raw Options) error {
	opts, err := ParseHostOptions(raw)
	if err != nil {
		return err
	}
	return c.AddHost(hostname, opts)
}

// AddHost appends a host entry. Nothing is appended on error.
func (c *Config) AddHost(hostname string, opts HostOptions) error {
	if hostname == "" {
		return missingOption("host", "hostname")
	}
	normalized, err := opts.normalize()
	if err != nil {
		return err
	}
	c.Hosts = append(c.Hosts, spec.HostEntry{Hostname: hostname, Options: normalized})
	return nil
}

// RegisterLocalHost adds the engine named by DOCKER_HOST, or 127.0.0.1.
func (c *Config) RegisterLocalHost() error {
	descriptor, ok := os.LookupEnv("DOCKER_HOST")
	if !ok || descriptor == "" {
		descriptor = DefaultEndpoint
	}
	return c.RegisterEndpoint(descriptor)
}

// RegisterEndpoint adds the host of an engine endpoint descriptor of the
// form scheme://host[:port]. A missing host means 127.0.0.1; a missing port
// leaves the engine default to the host group.
func (c *Config) RegisterEndpoint(descriptor string) error {
	hostname, err := ParseEndpoint(descriptor)
	if err != nil {
		return err
	}
	return c.AddHost(hostname, HostOptions{})
}

// ParseEndpoint returns host[:port] for an engine endpoint descriptor.
func ParseEndpoint(descriptor string) (string, error) {
	u, err := url.Parse(descriptor)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrMalformedEndpoint, descriptor, err)
	}
	if u.Scheme == "" || u.Opaque != "" {
		return "", fmt.Errorf("%w: %q: expected scheme://host[:port]", ErrMalformedEndpoint, descriptor)
	}

	host := u.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	if port := u.Port(); port != "" {
		return net.JoinHostPort(host, port), nil
	}
	return host, nil
}

// SetEnvVars merges vars into the global environment. Values are converted
// to strings; existing keys are overwritten.
func (c *Config) SetEnvVars(vars map[string]any) {
	if c.EnvVars == nil {
		c.EnvVars = map[string]string{}
	}
	for k, v := range vars {
		c.EnvVars[k] = fmt.Sprint(v)
	}
}

// AddPortBinding binds hostPort globally, replacing any earlier global
// binding of the same container port.
func (c *Config) AddPortBinding(hostPort string, opts PortOptions) error {
	opts.Port = hostPort
	if err := opts.validate(); err != nil {
		return err
	}
	if c.PortBindings == nil {
		c.PortBindings = spec.PortBindings{}
	}
	key, b := opts.binding()
	c.PortBindings[key] = []spec.PortBinding{b}
	return nil
}

// AddVolumeBinding appends "hostPath:containerVolume" to the binds.
// Duplicates are kept.
func (c *Config) AddVolumeBinding(hostPath string, opts VolumeOptions) error {
	if opts.ContainerVolume == "" {
		return missingOption("volume_binding", "container_volume")
	}
	c.Binds = append(c.Binds, hostPath+":"+opts.ContainerVolume)
	return nil
}

func (c *Config) SetMemory(bytes int64)       { c.Memory = bytes }
func (c *Config) SetCPUShares(shares int64)   { c.CPUShares = shares }
func (c *Config) SetCommand(args ...string)   { c.Command = slices.Clone(args) }
func (c *Config) SetRegistry(registry string) { c.Registry = registry }
func (c *Config) SetDockerPath(path string)   { c.DockerPath = path }
func (c *Config) SetImage(image, tag string)  { c.Image, c.Tag = image, tag }
func (c *Config) SetTLS(tls TLSSettings)      { c.TLS = tls }
func (c *Config) SetParallelism(n int)        { c.Parallelism = n }

// TLSParams returns the TLS settings for the host group. Without tlsverify
// TLS is disabled and the result is empty. tlsverify itself only switches
// TLS on; it is not passed to the CLI.
func (c *Config) TLSParams() *dockercli.TLS {
	if !c.TLS.Verify {
		return &dockercli.TLS{}
	}
	return &dockercli.TLS{
		Enabled: true,
		CACert:  c.TLS.CACert,
		Cert:    c.TLS.Cert,
		Key:     c.TLS.Key,
	}
}

// BuildGroup creates the host group from the registered hosts. Options in
// opts override the recipe's parallelism. The Config should not be
// modified afterwards.
func (c *Config) BuildGroup(opts ...fleet.Option) (*fleet.Group, error) {
	dockerPath := c.DockerPath
	if dockerPath == "" {
		dockerPath = DefaultDockerPath
	}
	opts = append([]fleet.Option{fleet.WithParallelism(c.Parallelism)}, opts...)
	return fleet.Build(slices.Clone(c.Hosts), dockerPath, c.TLSParams(), opts...)
}

// ContainerFor returns the container settings for h: global env vars and
// port bindings with the host's own entries layered on top.
func (c *Config) ContainerFor(h *fleet.Host, name string) spec.Container {
	image := c.Image
	if c.Tag != "" {
		image += ":" + c.Tag
	}
	return spec.Container{
		Name:         name,
		Image:        image,
		Env:          spec.MergeEnv(c.EnvVars, h.Options.EnvVars),
		PortBindings: c.PortBindings.Merge(h.Options.PortBindings),
		Binds:        slices.Clone(c.Binds),
		Memory:       c.Memory,
		CPUShares:    c.CPUShares,
		Command:      slices.Clone(c.Command),
	}
}

// ExtractPublicPort returns the host port the engine chose for a container.
// It expects a single binding; with several, the lexically first port key
// wins. ok is false when there is no binding at all.
func ExtractPublicPort(bindings spec.PortBindings) (port string, ok bool) {
	keys := bindings.Keys()
	if len(keys) == 0 {
		return "", false
	}
	targets := bindings[keys[0]]
	if len(targets) == 0 {
		return "", false
	}
	return targets[0].HostPort, true
}

// ServerTags lists the tags of an image present on one server.
type ServerTags struct {
	Server string   `json:"server"`
	Tags   []string `json:"tags"`
}

// ListCurrentTags asks every host of g which tags it holds for image.
// Hosts without tags are left out.
func ListCurrentTags(ctx context.Context, g *fleet.Group, image string) ([]ServerTags, error) {
	var out []ServerTags
	for _, h := range g.All() {
		tags, err := h.CurrentTags(ctx, image)
		if err != nil {
			return nil, &fleet.HostError{Host: h.Hostname, Err: err}
		}
		if len(tags) == 0 {
			continue
		}
		out = append(out, ServerTags{Server: h.Hostname, Tags: tags})
	}
	return out, nil
}
