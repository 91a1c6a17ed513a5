// Package spec holds the declarative rollout model shared by the recipe
// builder, the host group and the engine client.
package spec

import (
	"maps"
	"slices"
)

// PortKey identifies a container port as "<container_port>/<protocol>".
type PortKey string

// NewPortKey builds a PortKey, defaulting the protocol to tcp.
func NewPortKey(containerPort, protocol string) PortKey {
	if protocol == "" {
		protocol = "tcp"
	}
	return PortKey(containerPort + "/" + protocol)
}

// PortBinding is the host side of a port binding. The JSON names follow the
// engine API so that engine responses decode into it directly.
type PortBinding struct {
	HostIP   string `json:"HostIp,omitempty"`
	HostPort string `json:"HostPort"`
}

// PortBindings maps container ports to their host bindings.
type PortBindings map[PortKey][]PortBinding

// Keys returns the port keys in lexical order.
func (p PortBindings) Keys() []PortKey {
	return slices.Sorted(maps.Keys(p))
}

// Merge returns a copy of p with every key of override replacing p's entry.
func (p PortBindings) Merge(override PortBindings) PortBindings {
	out := make(PortBindings, len(p)+len(override))
	for k, v := range p {
		out[k] = slices.Clone(v)
	}
	for k, v := range override {
		out[k] = slices.Clone(v)
	}
	return out
}

// HostOptions are the per-host overrides of a HostEntry. Nil fields were not
// supplied.
type HostOptions struct {
	EnvVars      map[string]string `json:"env_vars,omitempty"`
	PortBindings PortBindings      `json:"port_bindings,omitempty"`
}

// HostEntry is one registered deployment target.
type HostEntry struct {
	Hostname string      `json:"hostname"`
	Options  HostOptions `json:"options"`
}

// MergeEnv returns global with overrides applied on top.
func MergeEnv(global, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(global)+len(overrides))
	maps.Copy(out, global)
	maps.Copy(out, overrides)
	return out
}

// Container is what gets started on one host: the recipe's global settings
// merged with that host's overrides.
type Container struct {
	Name         string
	Image        string
	Env          map[string]string
	PortBindings PortBindings
	Binds        []string
	Memory       int64
	CPUShares    int64
	Command      []string
}
