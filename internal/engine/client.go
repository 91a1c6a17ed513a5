// Package engine talks to one host's Docker Engine API.
package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strings"

	"github.com/atvirokodosprendimai/rollout/internal/fleet"
	"github.com/atvirokodosprendimai/rollout/internal/log"
	"github.com/atvirokodosprendimai/rollout/internal/spec"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/api/types/registry"
	"github.com/moby/moby/client"
	"github.com/rs/zerolog"
)

// RegistryAuth holds credentials for a private registry.
type RegistryAuth struct {
	Username string
	Password string
}

// Deployed describes a started container.
type Deployed struct {
	ID    string
	Ports spec.PortBindings
}

// Client is a wrapper around the official Docker client for one host.
type Client struct {
	cli    *client.Client
	logger zerolog.Logger
}

// NewClient creates a client for the engine of h, using its TLS material
// when TLS is enabled. No connection is made until the first call.
func NewClient(h *fleet.Host) (*Client, error) {
	opts := []client.Opt{
		client.WithHost("tcp://" + net.JoinHostPort(h.Addr, h.Port)),
		client.WithAPIVersionNegotiation(),
	}
	if h.TLS != nil && h.TLS.Enabled {
		opts = append(opts, client.WithTLSClientConfig(h.TLS.CACert, h.TLS.Cert, h.TLS.Key))
	}

	cli, err := client.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create docker client for %s: %w", h.Hostname, err)
	}
	return &Client{cli: cli, logger: log.WithHost(h.Hostname)}, nil
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.cli.Close()
}

// CurrentTags returns the tags of image present on the host.
func (c *Client) CurrentTags(ctx context.Context, image string) ([]string, error) {
	res, err := c.cli.ImageList(ctx, client.ImageListOptions{
		Filters: make(client.Filters).Add("reference", image),
	})
	if err != nil {
		return nil, fmt.Errorf("could not list images for '%s': %w", image, err)
	}

	var repoTags []string
	for _, img := range res.Items {
		repoTags = append(repoTags, img.RepoTags...)
	}
	return tagsOf(image, repoTags), nil
}

// tagsOf keeps the tag part of every repoTag belonging to image.
func tagsOf(image string, repoTags []string) []string {
	var tags []string
	prefix := image + ":"
	for _, rt := range repoTags {
		tag, ok := strings.CutPrefix(rt, prefix)
		if !ok || strings.Contains(tag, "/") || slices.Contains(tags, tag) {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}

// Pull pulls image:tag and waits for the pull to finish.
func (c *Client) Pull(ctx context.Context, image, tag string, auth RegistryAuth) error {
	if tag == "" {
		tag = "latest"
	}
	ref := image + ":" + tag

	authStr, err := getAuthString(auth.Username, auth.Password)
	if err != nil {
		return fmt.Errorf("could not get auth string: %w", err)
	}
	resp, err := c.cli.ImagePull(ctx, ref, client.ImagePullOptions{RegistryAuth: authStr})
	if err != nil {
		return fmt.Errorf("could not pull image '%s': %w", ref, err)
	}
	defer resp.Close()

	if err := resp.Wait(ctx); err != nil {
		return fmt.Errorf("could not pull image '%s': %w", ref, err)
	}
	c.logger.Info().Str("image", ref).Msg("image pulled")
	return nil
}

// Deploy replaces any container named ct.Name with a new one and starts it.
// The returned ports are the bindings the engine actually made.
func (c *Client) Deploy(ctx context.Context, ct spec.Container) (Deployed, error) {
	exposed, bindings, err := portMap(ct.PortBindings)
	if err != nil {
		return Deployed{}, err
	}

	containerConfig := &container.Config{
		Image:        ct.Image,
		Env:          envList(ct.Env),
		ExposedPorts: exposed,
	}
	if len(ct.Command) > 0 {
		containerConfig.Cmd = ct.Command
	}
	hostConfig := &container.HostConfig{
		Binds:        ct.Binds,
		PortBindings: bindings,
		Resources: container.Resources{
			Memory:    ct.Memory,
			CPUShares: ct.CPUShares,
		},
	}

	if err := c.removeContainerIfExists(ctx, ct.Name); err != nil {
		return Deployed{}, fmt.Errorf("could not prepare container name '%s': %w", ct.Name, err)
	}

	resp, err := c.cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerConfig,
		HostConfig: hostConfig,
		Name:       ct.Name,
	})
	if err != nil {
		return Deployed{}, fmt.Errorf("could not create container: %w", err)
	}
	if _, err := c.cli.ContainerStart(ctx, resp.ID, client.ContainerStartOptions{}); err != nil {
		return Deployed{}, fmt.Errorf("could not start container: %w", err)
	}

	inspect, err := c.cli.ContainerInspect(ctx, resp.ID, client.ContainerInspectOptions{})
	if err != nil {
		return Deployed{}, fmt.Errorf("could not inspect container: %w", err)
	}
	deployed := Deployed{ID: resp.ID}
	if ns := inspect.Container.NetworkSettings; ns != nil {
		deployed.Ports = fromPortMap(ns.Ports)
	}

	c.logger.Info().Str("container", ct.Name).Str("id", resp.ID).Msg("container started")
	return deployed, nil
}

func (c *Client) removeContainerIfExists(ctx context.Context, containerName string) error {
	if containerName == "" {
		return nil
	}

	_, err := c.cli.ContainerInspect(ctx, containerName, client.ContainerInspectOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return err
	}

	c.logger.Info().Str("container", containerName).Msg("container exists, removing for redeploy")
	_, err = c.cli.ContainerRemove(ctx, containerName, client.ContainerRemoveOptions{Force: true})
	return err
}

func portMap(bindings spec.PortBindings) (network.PortSet, network.PortMap, error) {
	if len(bindings) == 0 {
		return nil, nil, nil
	}

	exposed := make(network.PortSet)
	out := make(network.PortMap)
	for _, key := range bindings.Keys() {
		containerPort, err := network.ParsePort(string(key))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid container port %s: %w", key, err)
		}
		exposed[containerPort] = struct{}{}

		for _, b := range bindings[key] {
			hostIP := netip.Addr{}
			if b.HostIP != "" {
				hostIP, err = netip.ParseAddr(b.HostIP)
				if err != nil {
					return nil, nil, fmt.Errorf("invalid host IP '%s': %w", b.HostIP, err)
				}
			}
			out[containerPort] = append(out[containerPort], network.PortBinding{
				HostIP:   hostIP,
				HostPort: b.HostPort,
			})
		}
	}
	return exposed, out, nil
}

func fromPortMap(pm network.PortMap) spec.PortBindings {
	out := make(spec.PortBindings, len(pm))
	for port, bindings := range pm {
		key := spec.PortKey(port.String())
		for _, b := range bindings {
			pb := spec.PortBinding{HostPort: b.HostPort}
			if b.HostIP.IsValid() {
				pb.HostIP = b.HostIP.String()
			}
			out[key] = append(out[key], pb)
		}
	}
	return out
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}

func getAuthString(username, password string) (string, error) {
	if username == "" && password == "" {
		return "", nil
	}
	authConfig := registry.AuthConfig{
		Username: username,
		Password: password,
	}
	encodedJSON, err := json.Marshal(authConfig)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(encodedJSON), nil
}
