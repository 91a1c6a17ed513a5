package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s
}

func TestPublisher_HostStatus(t *testing.T) {
	s := runServer(t)

	sub, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe(SubjectHostStatus, msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	nc, err := Connect(s.ClientURL())
	require.NoError(t, err)
	p := NewPublisher(nc)
	defer p.Close()

	require.NoError(t, p.HostStatus(HostStatus{
		RunID:   "run-1",
		Action:  "pull",
		Host:    "docker1",
		Success: false,
		Message: "no space left on device",
	}))
	require.NoError(t, nc.Flush())

	select {
	case m := <-msgs:
		var got HostStatus
		require.NoError(t, json.Unmarshal(m.Data, &got))
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, "docker1", got.Host)
		assert.False(t, got.Success)
		assert.Equal(t, "no space left on device", got.Message)
		assert.False(t, got.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no host status received")
	}
}

func TestPublisher_RunFinished(t *testing.T) {
	s := runServer(t)

	sub, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	ch, err := sub.SubscribeSync(SubjectRunFinished)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	nc, err := Connect(s.ClientURL())
	require.NoError(t, err)
	p := NewPublisher(nc)

	require.NoError(t, p.RunFinished(RunReport{
		RunID:  "run-2",
		Action: "deploy",
		Hosts: []HostStatus{
			{Host: "docker1", Success: true},
			{Host: "docker2", Message: "boom"},
			{Host: "docker3", Success: true},
		},
	}))
	require.NoError(t, p.Close())

	m, err := ch.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var got RunReport
	require.NoError(t, json.Unmarshal(m.Data, &got))
	assert.Len(t, got.Hosts, 3)
	assert.Equal(t, []string{"docker2"}, got.Failed())
}

func TestPublisher_Nil(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.HostStatus(HostStatus{Host: "h1"}))
	assert.NoError(t, p.RunFinished(RunReport{}))
	assert.NoError(t, p.Close())
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1")
	assert.Error(t, err)
}

func TestStartEmbedded(t *testing.T) {
	ns, err := StartEmbedded("127.0.0.1:-1")
	require.NoError(t, err)
	defer ns.Shutdown()

	nc, err := Connect(ns.ClientURL())
	require.NoError(t, err)
	nc.Close()
}

func TestStartEmbedded_BadAddr(t *testing.T) {
	_, err := StartEmbedded("4222")
	assert.Error(t, err)

	_, err = StartEmbedded("127.0.0.1:nats")
	assert.Error(t, err)
}
