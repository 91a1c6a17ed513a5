package engine

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/atvirokodosprendimai/rollout/internal/dockercli"
	"github.com/atvirokodosprendimai/rollout/internal/fleet"
	"github.com/atvirokodosprendimai/rollout/internal/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortMap_RoundTrip(t *testing.T) {
	in := spec.PortBindings{
		"80/tcp":   {{HostPort: "8080"}},
		"53/udp":   {{HostIP: "127.0.0.1", HostPort: "5353"}},
		"9100/tcp": {{HostPort: "9100"}, {HostIP: "10.0.0.1", HostPort: "19100"}},
	}

	exposed, pm, err := portMap(in)
	require.NoError(t, err)
	assert.Len(t, exposed, 3)
	assert.Len(t, pm, 3)

	assert.Equal(t, in, fromPortMap(pm))
}

func TestPortMap_Empty(t *testing.T) {
	exposed, pm, err := portMap(nil)
	require.NoError(t, err)
	assert.Nil(t, exposed)
	assert.Nil(t, pm)
}

func TestPortMap_Invalid(t *testing.T) {
	_, _, err := portMap(spec.PortBindings{"eighty/tcp": {{HostPort: "8080"}}})
	assert.Error(t, err)

	_, _, err = portMap(spec.PortBindings{"80/tcp": {{HostIP: "not-an-ip", HostPort: "8080"}}})
	assert.ErrorContains(t, err, "invalid host IP")
}

func TestTagsOf(t *testing.T) {
	tags := tagsOf("app", []string{
		"app:1.0",
		"app:latest",
		"app:1.0",
		"other:2.0",
		"registry.example.com/app:3.0",
		"app-extra:4.0",
	})
	assert.Equal(t, []string{"1.0", "latest"}, tags)
	assert.Empty(t, tagsOf("app", nil))
}

func TestEnvList(t *testing.T) {
	assert.Equal(t, []string{"A=1", "B=two"}, envList(map[string]string{"B": "two", "A": "1"}))
	assert.Empty(t, envList(nil))
}

func TestGetAuthString(t *testing.T) {
	s, err := getAuthString("", "")
	require.NoError(t, err)
	assert.Empty(t, s)

	s, err = getAuthString("deploy", "secret")
	require.NoError(t, err)
	raw, err := base64.URLEncoding.DecodeString(s)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "deploy", got["username"])
	assert.Equal(t, "secret", got["password"])
}

func TestNewClient_NoDaemonNeeded(t *testing.T) {
	c, err := NewClient(&fleet.Host{Hostname: "docker1:2375", Addr: "docker1", Port: "2375"})
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}

func TestNewClient_MissingTLSMaterial(t *testing.T) {
	dir := t.TempDir()
	_, err := NewClient(&fleet.Host{
		Hostname: "docker1:2376",
		Addr:     "docker1",
		Port:     "2376",
		TLS: &dockercli.TLS{
			Enabled: true,
			Verify:  true,
			CACert:  filepath.Join(dir, "ca.pem"),
			Cert:    filepath.Join(dir, "cert.pem"),
			Key:     filepath.Join(dir, "key.pem"),
		},
	})
	assert.ErrorContains(t, err, "docker1:2376")
}

func TestPool_CachesPerHost(t *testing.T) {
	p := NewPool()
	calls := 0
	p.newFn = func(h *fleet.Host) (*Client, error) {
		calls++
		return NewClient(h)
	}

	h1 := &fleet.Host{Hostname: "h1", Addr: "h1", Port: "2375"}
	h2 := &fleet.Host{Hostname: "h2", Addr: "h2", Port: "2375"}

	a, err := p.Client(h1)
	require.NoError(t, err)
	b, err := p.Client(h1)
	require.NoError(t, err)
	assert.Same(t, a, b)

	e, err := p.Dial(h2)
	require.NoError(t, err)
	assert.NotNil(t, e)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, p.Len())

	require.NoError(t, p.CloseAll())
	assert.Equal(t, 0, p.Len())
}

func TestPool_DialError(t *testing.T) {
	p := NewPool()
	boom := errors.New("boom")
	p.newFn = func(*fleet.Host) (*Client, error) { return nil, boom }

	_, err := p.Dial(&fleet.Host{Hostname: "h1"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, p.Len())
}
