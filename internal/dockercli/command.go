// Package dockercli builds docker CLI invocations against a single remote
// engine endpoint. It only constructs argument vectors; Runner executes them.
package dockercli

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// DefaultRegistry is the registry used by login and logout when none is given.
const DefaultRegistry = "https://registry.hub.docker.com"

// ErrUnknownAction is the panic value for an action outside the fixed table.
var ErrUnknownAction = errors.New("unknown docker cli action")

// Action names a docker CLI operation.
type Action string

const (
	Pull   Action = "pull"
	Tail   Action = "tail"
	Attach Action = "attach"
	Login  Action = "login"
	Logout Action = "logout"
)

var subcommands = map[Action][]string{
	Pull:   {"pull"},
	Tail:   {"logs", "-f"},
	Attach: {"attach"},
	Login:  {"login"},
	Logout: {"logout"},
}

// TLS holds the TLS material passed on the command line. The zero value
// disables TLS. Empty paths are left out individually; the engine decides
// whether partial material is acceptable.
type TLS struct {
	Enabled bool   `json:"tls"`
	CACert  string `json:"tlscacert,omitempty"`
	Cert    string `json:"tlscert,omitempty"`
	Key     string `json:"tlskey,omitempty"`
	Verify  bool   `json:"tlsverify,omitempty"`
}

// IsZero reports whether no TLS setting is present.
func (t TLS) IsZero() bool {
	return t == TLS{}
}

// Flags renders the TLS settings as docker CLI flags.
func (t *TLS) Flags() []string {
	if t == nil || t.IsZero() {
		return nil
	}

	var flags []string
	if t.Enabled {
		flags = append(flags, "--tls=true")
	}
	if t.CACert != "" {
		flags = append(flags, "--tlscacert="+t.CACert)
	}
	if t.Cert != "" {
		flags = append(flags, "--tlscert="+t.Cert)
	}
	if t.Key != "" {
		flags = append(flags, "--tlskey="+t.Key)
	}
	if t.Verify {
		flags = append(flags, "--tlsverify=true")
	}
	return flags
}

// Credentials are the registry credentials used by Login.
type Credentials struct {
	Email    string
	User     string
	Password string
}

// Command is a fully-formed docker CLI invocation. Args[0] is the binary.
type Command struct {
	Args []string
}

// String renders the command on one line.
func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// Redacted renders the command with password values masked, for logs and errors.
func (c Command) Redacted() string {
	args := make([]string, len(c.Args))
	copy(args, c.Args)
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-p" || args[i] == "--password" {
			args[i+1] = "********"
		}
	}
	return strings.Join(args, " ")
}

// Invoker builds commands for one engine endpoint. The TLS settings are
// shared with the owning host group and never modified.
type Invoker struct {
	dockerPath string
	host       string
	tls        *TLS
}

// NewInvoker returns an Invoker targeting tcp://hostname:port.
func NewInvoker(dockerPath, hostname, port string, tls *TLS) *Invoker {
	if dockerPath == "" {
		dockerPath = "docker"
	}
	return &Invoker{
		dockerPath: dockerPath,
		host:       "tcp://" + net.JoinHostPort(hostname, port),
		tls:        tls,
	}
}

// Host returns the engine endpoint address.
func (i *Invoker) Host() string {
	return i.host
}

// Build assembles the command line for action. It panics with
// ErrUnknownAction if action is not one of the declared constants.
func (i *Invoker) Build(action Action, args ...string) Command {
	sub, ok := subcommands[action]
	if !ok {
		panic(fmt.Errorf("%w: %q", ErrUnknownAction, action))
	}

	argv := []string{i.dockerPath, "-H=" + i.host}
	argv = append(argv, i.tls.Flags()...)
	argv = append(argv, sub...)
	argv = append(argv, args...)
	return Command{Args: argv}
}

// Pull pulls image:tag. An empty tag means latest.
func (i *Invoker) Pull(image, tag string) Command {
	if tag == "" {
		tag = "latest"
	}
	return i.Build(Pull, image+":"+tag)
}

// Tail follows the logs of a container.
func (i *Invoker) Tail(containerID string) Command {
	return i.Build(Tail, containerID)
}

// Attach attaches to a running container.
func (i *Invoker) Attach(containerID string) Command {
	return i.Build(Attach, containerID)
}

// Login authenticates the engine against registry, DefaultRegistry when empty.
func (i *Invoker) Login(creds Credentials, registry string) Command {
	if registry == "" {
		registry = DefaultRegistry
	}
	var args []string
	if creds.Email != "" {
		args = append(args, "-e", creds.Email)
	}
	if creds.User != "" {
		args = append(args, "-u", creds.User)
	}
	if creds.Password != "" {
		args = append(args, "-p", creds.Password)
	}
	return i.Build(Login, append(args, registry)...)
}

// Logout removes the engine's credentials for registry.
func (i *Invoker) Logout(registry string) Command {
	if registry == "" {
		registry = DefaultRegistry
	}
	return i.Build(Logout, registry)
}
