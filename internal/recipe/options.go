package recipe

import (
	"fmt"
	"maps"
	"slices"

	"github.com/atvirokodosprendimai/rollout/internal/spec"
)

// Options is a loosely-typed option bag, as decoded from a recipe file.
// Parse it into one of the typed option structs before registering it.
type Options map[string]any

// unknown returns the keys of o outside valid, sorted.
func (o Options) unknown(valid ...string) []string {
	var bad []string
	for k := range o {
		if !slices.Contains(valid, k) {
			bad = append(bad, k)
		}
	}
	slices.Sort(bad)
	return bad
}

// missing returns the keys of required absent from o, in the given order.
func (o Options) missing(required ...string) []string {
	var out []string
	for _, k := range required {
		if _, ok := o[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

func (o Options) check(op string, valid, required []string) error {
	if bad := o.unknown(valid...); len(bad) > 0 {
		return invalidOption(op, bad...)
	}
	if miss := o.missing(required...); len(miss) > 0 {
		return missingOption(op, miss...)
	}
	return nil
}

func (o Options) str(key string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// HostOptions are the per-host overrides accepted by AddHost.
type HostOptions struct {
	EnvVars      map[string]string
	PortBindings []PortOptions
}

// PortOptions declares one port binding. ContainerPort and Port are
// required; Type defaults to tcp.
type PortOptions struct {
	ContainerPort string
	Port          string
	Type          string
	HostIP        string
}

// VolumeOptions declares the container side of a volume binding.
type VolumeOptions struct {
	ContainerVolume string
}

var (
	hostKeys         = []string{"env_vars", "port_bindings"}
	portKeys         = []string{"container_port", "port", "type", "host_ip"}
	portRequiredKeys = []string{"container_port", "port"}
	volumeKeys       = []string{"container_volume"}
)

// ParseHostOptions validates and converts a raw host option bag.
func ParseHostOptions(raw Options) (HostOptions, error) {
	var opts HostOptions
	if err := raw.check("host", hostKeys, nil); err != nil {
		return opts, err
	}

	if v, ok := raw["env_vars"]; ok {
		env, err := toStringMap(v)
		if err != nil {
			return opts, fmt.Errorf("host env_vars: %w", err)
		}
		opts.EnvVars = env
	}

	if v, ok := raw["port_bindings"]; ok {
		list, err := toOptionsList(v)
		if err != nil {
			return opts, fmt.Errorf("host port_bindings: %w", err)
		}
		opts.PortBindings = []PortOptions{}
		for i, item := range list {
			p, err := ParsePortOptions(item)
			if err != nil {
				return HostOptions{}, fmt.Errorf("host port_bindings[%d]: %w", i, err)
			}
			opts.PortBindings = append(opts.PortBindings, p)
		}
	}
	return opts, nil
}

// ParsePortOptions validates and converts a raw port binding declaration.
func ParsePortOptions(raw Options) (PortOptions, error) {
	if err := raw.check("port_binding", portKeys, portRequiredKeys); err != nil {
		return PortOptions{}, err
	}
	return PortOptions{
		ContainerPort: raw.str("container_port"),
		Port:          raw.str("port"),
		Type:          raw.str("type"),
		HostIP:        raw.str("host_ip"),
	}, nil
}

// ParseVolumeOptions validates and converts a raw volume binding declaration.
func ParseVolumeOptions(raw Options) (VolumeOptions, error) {
	if err := raw.check("volume_binding", volumeKeys, volumeKeys); err != nil {
		return VolumeOptions{}, err
	}
	return VolumeOptions{ContainerVolume: raw.str("container_volume")}, nil
}

func (p PortOptions) validate() error {
	var miss []string
	if p.ContainerPort == "" {
		miss = append(miss, "container_port")
	}
	if p.Port == "" {
		miss = append(miss, "port")
	}
	if len(miss) > 0 {
		return missingOption("port_binding", miss...)
	}
	return nil
}

func (p PortOptions) binding() (spec.PortKey, spec.PortBinding) {
	return spec.NewPortKey(p.ContainerPort, p.Type), spec.PortBinding{
		HostIP:   p.HostIP,
		HostPort: p.Port,
	}
}

// normalize converts HostOptions into the stored form, leaving fields that
// were not supplied nil.
func (h HostOptions) normalize() (spec.HostOptions, error) {
	var out spec.HostOptions
	if h.EnvVars != nil {
		out.EnvVars = maps.Clone(h.EnvVars)
	}
	if h.PortBindings != nil {
		out.PortBindings = spec.PortBindings{}
		for _, p := range h.PortBindings {
			if err := p.validate(); err != nil {
				return spec.HostOptions{}, err
			}
			key, b := p.binding()
			out.PortBindings[key] = []spec.PortBinding{b}
		}
	}
	return out, nil
}

func toStringMap(v any) (map[string]string, error) {
	var m map[string]any
	switch vv := v.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return maps.Clone(vv), nil
	case Options:
		m = vv
	case map[string]any:
		m = vv
	default:
		return nil, fmt.Errorf("expected a mapping, got %T", v)
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprint(val)
	}
	return out, nil
}

func toOptions(v any) (Options, error) {
	switch m := v.(type) {
	case Options:
		return m, nil
	case map[string]any:
		return Options(m), nil
	default:
		return nil, fmt.Errorf("expected a mapping, got %T", v)
	}
}

func toOptionsList(v any) ([]Options, error) {
	switch l := v.(type) {
	case []Options:
		return l, nil
	case []any:
		out := make([]Options, 0, len(l))
		for i, item := range l {
			o, err := toOptions(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out = append(out, o)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
}
