package recipe

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

var recipeKeys = []string{
	"image", "tag", "docker_path", "registry", "memory", "cpu_shares", "command",
	"tlsverify", "tlscacert", "tlscert", "tlskey", "parallelism",
	"env_vars", "port_bindings", "binds", "localhost", "hosts",
}

// Load reads a recipe file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recipe: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", path, err)
	}
	return cfg, nil
}

// Parse reads a YAML recipe and registers its contents, in file order for
// hosts, through the same calls a Go caller would use.
func Parse(r io.Reader) (*Config, error) {
	var raw Options
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode recipe: %w", err)
	}
	if err := raw.check("recipe", recipeKeys, nil); err != nil {
		return nil, err
	}

	c := New()
	c.Image = raw.str("image")
	c.Tag = raw.str("tag")
	c.Registry = raw.str("registry")
	if p := raw.str("docker_path"); p != "" {
		c.DockerPath = p
	}

	if v, ok := raw["memory"]; ok {
		mem, err := parseMemory(v)
		if err != nil {
			return nil, fmt.Errorf("memory: %w", err)
		}
		c.SetMemory(mem)
	}
	if v, ok := raw["cpu_shares"]; ok {
		shares, err := strconv.ParseInt(fmt.Sprint(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cpu_shares: %w", err)
		}
		c.SetCPUShares(shares)
	}
	if v, ok := raw["parallelism"]; ok {
		n, err := strconv.Atoi(fmt.Sprint(v))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("parallelism: expected a non-negative integer, got %v", v)
		}
		c.SetParallelism(n)
	}
	if v, ok := raw["command"]; ok {
		cmd, err := parseCommand(v)
		if err != nil {
			return nil, fmt.Errorf("command: %w", err)
		}
		c.SetCommand(cmd...)
	}

	verify, err := parseBool(raw["tlsverify"])
	if err != nil {
		return nil, fmt.Errorf("tlsverify: %w", err)
	}
	c.SetTLS(TLSSettings{
		Verify: verify,
		CACert: raw.str("tlscacert"),
		Cert:   raw.str("tlscert"),
		Key:    raw.str("tlskey"),
	})

	if v, ok := raw["env_vars"]; ok {
		env, err := toStringMap(v)
		if err != nil {
			return nil, fmt.Errorf("env_vars: %w", err)
		}
		vars := make(map[string]any, len(env))
		for k, val := range env {
			vars[k] = val
		}
		c.SetEnvVars(vars)
	}

	if err := c.loadPortBindings(raw["port_bindings"]); err != nil {
		return nil, err
	}
	if err := c.loadBinds(raw["binds"]); err != nil {
		return nil, err
	}
	if err := c.loadHosts(raw["hosts"]); err != nil {
		return nil, err
	}

	local, err := parseBool(raw["localhost"])
	if err != nil {
		return nil, fmt.Errorf("localhost: %w", err)
	}
	if local {
		if err := c.RegisterLocalHost(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Config) loadPortBindings(v any) error {
	if v == nil {
		return nil
	}
	list, err := toOptionsList(v)
	if err != nil {
		return fmt.Errorf("port_bindings: %w", err)
	}
	for i, item := range list {
		opts, err := ParsePortOptions(item)
		if err != nil {
			return fmt.Errorf("port_bindings[%d]: %w", i, err)
		}
		if err := c.AddPortBinding(opts.Port, opts); err != nil {
			return fmt.Errorf("port_bindings[%d]: %w", i, err)
		}
	}
	return nil
}

func (c *Config) loadBinds(v any) error {
	if v == nil {
		return nil
	}
	list, err := toOptionsList(v)
	if err != nil {
		return fmt.Errorf("binds: %w", err)
	}
	for i, item := range list {
		if err := item.check("volume_binding", []string{"host_volume", "container_volume"}, []string{"host_volume"}); err != nil {
			return fmt.Errorf("binds[%d]: %w", i, err)
		}
		hostVolume := item.str("host_volume")
		delete(item, "host_volume")

		opts, err := ParseVolumeOptions(item)
		if err != nil {
			return fmt.Errorf("binds[%d]: %w", i, err)
		}
		if err := c.AddVolumeBinding(hostVolume, opts); err != nil {
			return fmt.Errorf("binds[%d]: %w", i, err)
		}
	}
	return nil
}

func (c *Config) loadHosts(v any) error {
	if v == nil {
		return nil
	}
	list, err := toOptionsList(v)
	if err != nil {
		return fmt.Errorf("hosts: %w", err)
	}
	for i, item := range list {
		hostname := item.str("hostname")
		if hostname == "" {
			return fmt.Errorf("hosts[%d]: %w", i, missingOption("host", "hostname"))
		}
		opts := make(Options, len(item))
		for k, val := range item {
			if k != "hostname" {
				opts[k] = val
			}
		}
		if err := c.RegisterHost(hostname, opts); err != nil {
			return fmt.Errorf("hosts[%d] %s: %w", i, hostname, err)
		}
	}
	return nil
}

func parseMemory(v any) (int64, error) {
	switch m := v.(type) {
	case int:
		return int64(m), nil
	case int64:
		return m, nil
	case string:
		return units.RAMInBytes(m)
	default:
		return 0, fmt.Errorf("expected a size, got %T", v)
	}
}

func parseCommand(v any) ([]string, error) {
	switch cmd := v.(type) {
	case string:
		return strings.Fields(cmd), nil
	case []any:
		out := make([]string, 0, len(cmd))
		for _, arg := range cmd {
			out = append(out, fmt.Sprint(arg))
		}
		return out, nil
	case []string:
		return slices.Clone(cmd), nil
	default:
		return nil, fmt.Errorf("expected a string or list, got %T", v)
	}
}

func parseBool(v any) (bool, error) {
	switch b := v.(type) {
	case nil:
		return false, nil
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	default:
		return false, fmt.Errorf("expected a boolean, got %T", v)
	}
}
