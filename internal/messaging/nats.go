// Package messaging publishes rollout progress over NATS.
package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/rollout/internal/log"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	// SubjectHostStatus carries one HostStatus per host and action.
	SubjectHostStatus = "rollout.host.status"
	// SubjectRunFinished carries one RunReport when an action has run on every host.
	SubjectRunFinished = "rollout.run.finished"
)

// HostStatus reports the outcome of an action on one host.
type HostStatus struct {
	RunID       string    `json:"run_id"`
	Action      string    `json:"action"` // e.g., "pull", "deploy"
	Host        string    `json:"host"`
	Success     bool      `json:"success"`
	Message     string    `json:"message,omitempty"` // Error message on failure
	ContainerID string    `json:"container_id,omitempty"`
	PublicPort  string    `json:"public_port,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// RunReport is published once per run, after every host has reported.
type RunReport struct {
	RunID      string       `json:"run_id"`
	Action     string       `json:"action"`
	Image      string       `json:"image,omitempty"`
	Tag        string       `json:"tag,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Hosts      []HostStatus `json:"hosts"`
}

// Failed returns the hosts that did not succeed, in report order.
func (r RunReport) Failed() []string {
	var failed []string
	for _, h := range r.Hosts {
		if !h.Success {
			failed = append(failed, h.Host)
		}
	}
	return failed
}

// Connect establishes a connection to a NATS server.
func Connect(natsURL string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL, nats.Name("rollout"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", natsURL, err)
	}
	l := log.WithComponent("messaging")
	l.Info().Str("url", natsURL).Msg("Connected to NATS server")
	return nc, nil
}

// Publisher sends rollout events. A nil *Publisher drops every event, so
// callers need not check whether NATS is configured.
type Publisher struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

// NewPublisher wraps an established connection.
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{nc: nc, logger: log.WithComponent("messaging")}
}

// HostStatus publishes status on SubjectHostStatus.
func (p *Publisher) HostStatus(status HostStatus) error {
	if p == nil {
		return nil
	}
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now().UTC()
	}
	return p.publish(SubjectHostStatus, status)
}

// RunFinished publishes report on SubjectRunFinished.
func (p *Publisher) RunFinished(report RunReport) error {
	if p == nil {
		return nil
	}
	return p.publish(SubjectRunFinished, report)
}

func (p *Publisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug().Str("subject", subject).Msg("event published")
	return nil
}

// Close flushes pending events and closes the connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	err := p.nc.Flush()
	p.nc.Close()
	return err
}
