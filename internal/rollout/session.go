// Package rollout runs the user-facing actions of the rollout CLI against a
// host group and reports per-host outcomes.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/rollout/internal/db"
	"github.com/atvirokodosprendimai/rollout/internal/dockercli"
	"github.com/atvirokodosprendimai/rollout/internal/engine"
	"github.com/atvirokodosprendimai/rollout/internal/fleet"
	"github.com/atvirokodosprendimai/rollout/internal/history"
	"github.com/atvirokodosprendimai/rollout/internal/log"
	"github.com/atvirokodosprendimai/rollout/internal/messaging"
	"github.com/atvirokodosprendimai/rollout/internal/recipe"
	"github.com/atvirokodosprendimai/rollout/internal/spec"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNoImage is returned by actions that need the recipe image when none is set.
var ErrNoImage = errors.New("recipe has no image")

// Deployer is the engine surface used by pull and deploy.
type Deployer interface {
	Pull(ctx context.Context, image, tag string, auth engine.RegistryAuth) error
	Deploy(ctx context.Context, ct spec.Container) (engine.Deployed, error)
}

// CommandRunner executes a docker CLI command.
type CommandRunner interface {
	Run(ctx context.Context, cmd dockercli.Command) error
}

// Session binds a recipe to its host group and to the optional reporting sinks.
type Session struct {
	Config *recipe.Config
	Group  *fleet.Group

	// Deployers returns the engine of a host.
	Deployers func(h *fleet.Host) (Deployer, error)
	Runner    CommandRunner
	Auth      engine.RegistryAuth

	// Publisher and Store may be nil.
	Publisher *messaging.Publisher
	Store     *db.Store

	logger zerolog.Logger
}

// NewSession builds the host group of cfg. Engines are reached through pool.
func NewSession(cfg *recipe.Config, pool *engine.Pool, opts ...fleet.Option) (*Session, error) {
	opts = append([]fleet.Option{fleet.WithDialer(pool.Dial)}, opts...)
	g, err := cfg.BuildGroup(opts...)
	if err != nil {
		return nil, err
	}
	return &Session{
		Config: cfg,
		Group:  g,
		Deployers: func(h *fleet.Host) (Deployer, error) {
			return pool.Client(h)
		},
		Runner: dockercli.NewRunner(),
		logger: log.WithComponent("rollout"),
	}, nil
}

// Pull pulls the recipe image on every host in parallel.
func (s *Session) Pull(ctx context.Context) (*messaging.RunReport, error) {
	if s.Config.Image == "" {
		return nil, ErrNoImage
	}
	run := s.begin("pull")
	err := s.Group.EachInParallel(ctx, func(ctx context.Context, h *fleet.Host) error {
		d, err := s.Deployers(h)
		if err == nil {
			err = d.Pull(ctx, s.Config.Image, s.Config.Tag, s.Auth)
		}
		run.record(h, err, nil)
		return err
	})
	return s.finish(run), err
}

// CLIRequest selects a docker CLI action and its arguments.
type CLIRequest struct {
	Action      dockercli.Action
	ContainerID string // tail, attach
	Credentials dockercli.Credentials
}

// CLI runs a docker CLI command against every host. Pulls run in parallel,
// every other action host by host, stopping at the first failure.
func (s *Session) CLI(ctx context.Context, req CLIRequest) (*messaging.RunReport, error) {
	build, err := s.commandFor(req)
	if err != nil {
		return nil, err
	}

	run := s.begin("cli " + string(req.Action))
	exec := func(ctx context.Context, h *fleet.Host) error {
		cmd := build(h.CLI())
		s.logger.Debug().Str("host", h.Hostname).Str("command", cmd.Redacted()).Msg("running docker cli")
		err := s.Runner.Run(ctx, cmd)
		run.record(h, err, nil)
		return err
	}

	if req.Action == dockercli.Pull {
		err = s.Group.EachInParallel(ctx, exec)
	} else {
		err = s.Group.Each(func(h *fleet.Host) error { return exec(ctx, h) })
	}
	return s.finish(run), err
}

func (s *Session) commandFor(req CLIRequest) (func(*dockercli.Invoker) dockercli.Command, error) {
	switch req.Action {
	case dockercli.Pull:
		if s.Config.Image == "" {
			return nil, ErrNoImage
		}
		return func(i *dockercli.Invoker) dockercli.Command { return i.Pull(s.Config.Image, s.Config.Tag) }, nil
	case dockercli.Tail, dockercli.Attach:
		if req.ContainerID == "" {
			return nil, fmt.Errorf("%s needs a container id", req.Action)
		}
		if req.Action == dockercli.Tail {
			return func(i *dockercli.Invoker) dockercli.Command { return i.Tail(req.ContainerID) }, nil
		}
		return func(i *dockercli.Invoker) dockercli.Command { return i.Attach(req.ContainerID) }, nil
	case dockercli.Login:
		return func(i *dockercli.Invoker) dockercli.Command { return i.Login(req.Credentials, s.Config.Registry) }, nil
	case dockercli.Logout:
		return func(i *dockercli.Invoker) dockercli.Command { return i.Logout(s.Config.Registry) }, nil
	}
	return nil, fmt.Errorf("%w: %q", dockercli.ErrUnknownAction, req.Action)
}

// HostDeploy is the outcome of a deploy on one host.
type HostDeploy struct {
	Host        string
	ContainerID string
	PublicPort  string
}

// Deploy rolls the recipe image out host by host: pull, then replace the
// container called name. It stops at the first failing host.
func (s *Session) Deploy(ctx context.Context, name string) ([]HostDeploy, *messaging.RunReport, error) {
	if s.Config.Image == "" {
		return nil, nil, ErrNoImage
	}

	run := s.begin("deploy")
	var out []HostDeploy
	err := s.Group.Each(func(h *fleet.Host) error {
		hd, err := s.deployHost(ctx, h, name)
		run.record(h, err, hd)
		if err != nil {
			return err
		}
		out = append(out, *hd)
		return nil
	})
	return out, s.finish(run), err
}

func (s *Session) deployHost(ctx context.Context, h *fleet.Host, name string) (*HostDeploy, error) {
	d, err := s.Deployers(h)
	if err != nil {
		return nil, err
	}
	if err := d.Pull(ctx, s.Config.Image, s.Config.Tag, s.Auth); err != nil {
		return nil, err
	}
	deployed, err := d.Deploy(ctx, s.Config.ContainerFor(h, name))
	if err != nil {
		return nil, err
	}

	hd := &HostDeploy{Host: h.Hostname, ContainerID: deployed.ID}
	if port, ok := recipe.ExtractPublicPort(deployed.Ports); ok {
		hd.PublicPort = port
	}
	s.logger.Info().Str("host", h.Hostname).Str("port", hd.PublicPort).Msg("deployed")
	return hd, nil
}

// Tags lists the tags of the recipe image on every host.
func (s *Session) Tags(ctx context.Context) ([]recipe.ServerTags, error) {
	if s.Config.Image == "" {
		return nil, ErrNoImage
	}
	return recipe.ListCurrentTags(ctx, s.Group, s.Config.Image)
}

// runState collects host outcomes of one action. Workers record concurrently.
type runState struct {
	report  messaging.RunReport
	results map[*fleet.Host]messaging.HostStatus
	mu      sync.Mutex
}

func (s *Session) begin(action string) *runState {
	return &runState{
		report: messaging.RunReport{
			RunID:     uuid.NewString(),
			Action:    action,
			Image:     s.Config.Image,
			Tag:       s.Config.Tag,
			StartedAt: time.Now().UTC(),
		},
		results: make(map[*fleet.Host]messaging.HostStatus),
	}
}

func (r *runState) record(h *fleet.Host, err error, hd *HostDeploy) {
	st := messaging.HostStatus{
		RunID:     r.report.RunID,
		Action:    r.report.Action,
		Host:      h.Hostname,
		Success:   err == nil,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		st.Message = err.Error()
	}
	if hd != nil {
		st.ContainerID = hd.ContainerID
		st.PublicPort = hd.PublicPort
	}

	r.mu.Lock()
	r.results[h] = st
	r.mu.Unlock()
}

// finish orders the recorded outcomes by host, then publishes and stores
// them. Reporting failures are logged, never returned.
func (s *Session) finish(r *runState) *messaging.RunReport {
	r.report.FinishedAt = time.Now().UTC()
	for _, h := range s.Group.All() {
		st, ok := r.results[h]
		if !ok {
			continue
		}
		r.report.Hosts = append(r.report.Hosts, st)
		if err := s.Publisher.HostStatus(st); err != nil {
			s.logger.Warn().Err(err).Str("host", h.Hostname).Msg("could not publish host status")
		}
	}

	if err := s.Publisher.RunFinished(r.report); err != nil {
		s.logger.Warn().Err(err).Msg("could not publish run report")
	}
	if s.Store != nil {
		if err := s.Store.RecordRun(history.RunFromReport(r.report)); err != nil {
			s.logger.Warn().Err(err).Msg("could not record run")
		}
	}
	return &r.report
}
