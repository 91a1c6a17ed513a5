package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/atvirokodosprendimai/rollout/internal/db"
	"github.com/atvirokodosprendimai/rollout/internal/discovery"
	"github.com/atvirokodosprendimai/rollout/internal/dockercli"
	"github.com/atvirokodosprendimai/rollout/internal/engine"
	"github.com/atvirokodosprendimai/rollout/internal/fleet"
	"github.com/atvirokodosprendimai/rollout/internal/history"
	"github.com/atvirokodosprendimai/rollout/internal/log"
	"github.com/atvirokodosprendimai/rollout/internal/messaging"
	"github.com/atvirokodosprendimai/rollout/internal/recipe"
	"github.com/atvirokodosprendimai/rollout/internal/rollout"
	"github.com/atvirokodosprendimai/rollout/internal/wgmesh"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "rollout",
		Usage: "Roll a container image out to a group of Docker hosts.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error", Sources: cli.EnvVars("ROLLOUT_LOG_LEVEL")},
			&cli.BoolFlag{Name: "log-json", Usage: "Log JSON instead of console output"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			log.Init(log.Config{
				Level:      log.Level(cmd.String("log-level")),
				JSONOutput: cmd.Bool("log-json"),
			})
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:   "pull",
				Usage:  "Pull the recipe image on every host in parallel",
				Flags:  withRegistryAuth(recipeFlags()),
				Action: runPull,
			},
			{
				Name:  "cli",
				Usage: "Run docker CLI commands against every host",
				Commands: []*cli.Command{
					{Name: "pull", Usage: "docker pull the recipe image, in parallel", Flags: recipeFlags(), Action: runCLI(dockercli.Pull)},
					{Name: "tail", Usage: "Follow a container's logs on each host", ArgsUsage: "CONTAINER", Flags: recipeFlags(), Action: runCLI(dockercli.Tail)},
					{Name: "attach", Usage: "Attach to a container on each host", ArgsUsage: "CONTAINER", Flags: recipeFlags(), Action: runCLI(dockercli.Attach)},
					{
						Name:  "login",
						Usage: "Log every engine in to the recipe registry",
						Flags: append(recipeFlags(),
							&cli.StringFlag{Name: "email", Usage: "Registry account email"},
							&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Usage: "Registry user", Sources: cli.EnvVars("ROLLOUT_REGISTRY_USER")},
							&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Registry password", Sources: cli.EnvVars("ROLLOUT_REGISTRY_PASSWORD")},
						),
						Action: runCLI(dockercli.Login),
					},
					{Name: "logout", Usage: "Log every engine out of the recipe registry", Flags: recipeFlags(), Action: runCLI(dockercli.Logout)},
				},
			},
			{
				Name:   "tags",
				Usage:  "List the tags of the recipe image present on each host",
				Flags:  recipeFlags(),
				Action: runTags,
			},
			{
				Name:  "deploy",
				Usage: "Pull and replace the container host by host",
				Flags: withRegistryAuth(append(recipeFlags(),
					&cli.StringFlag{Name: "name", Usage: "Container name (defaults to the image's last path element)"},
				)),
				Action: runDeploy,
			},
			{
				Name:   "hosts",
				Usage:  "Print the resolved host group",
				Flags:  recipeFlags(),
				Action: runHosts,
			},
			{
				Name:  "history",
				Usage: "Inspect recorded rollout runs",
				Commands: []*cli.Command{
					{
						Name:  "serve",
						Usage: "Serve recorded runs over HTTP",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "http-addr", Value: "127.0.0.1:8080", Usage: "HTTP server bind address"},
							&cli.StringFlag{Name: "history-db", Value: "rollout.db", Usage: "Path to the SQLite history database"},
							&cli.StringFlag{Name: "nats-url", Usage: "Record run reports published on this NATS server"},
							&cli.StringFlag{Name: "nats-listen", Usage: "Start an embedded NATS server on host:port and record its run reports"},
						},
						Action: runHistoryServe,
					},
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Logger.Error().Err(err).Msg("rollout failed")
		stop()
		os.Exit(1)
	}
}

func recipeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "recipe", Aliases: []string{"r"}, Value: "rollout.yaml", Usage: "Path to the recipe file", Sources: cli.EnvVars("ROLLOUT_RECIPE")},
		&cli.StringFlag{Name: "docker-path", Usage: "docker binary, overrides the recipe"},
		&cli.IntFlag{Name: "parallelism", Usage: "Maximum concurrent hosts for parallel actions (0 = all), overrides the recipe"},
		&cli.StringFlag{Name: "mesh-socket", Usage: "Also target every wg-mesh peer known to this socket"},
		&cli.StringFlag{Name: "mesh-port", Value: fleet.DefaultEnginePort, Usage: "Engine port of wg-mesh peers"},
		&cli.StringFlag{Name: "nats-url", Usage: "Publish host status events to this NATS server", Sources: cli.EnvVars("ROLLOUT_NATS_URL")},
		&cli.StringFlag{Name: "history-db", Usage: "Record runs in this SQLite database", Sources: cli.EnvVars("ROLLOUT_HISTORY_DB")},
	}
}

func withRegistryAuth(flags []cli.Flag) []cli.Flag {
	return append(flags,
		&cli.StringFlag{Name: "registry-user", Usage: "Registry user for engine pulls", Sources: cli.EnvVars("ROLLOUT_REGISTRY_USER")},
		&cli.StringFlag{Name: "registry-password", Usage: "Registry password for engine pulls", Sources: cli.EnvVars("ROLLOUT_REGISTRY_PASSWORD")},
	)
}

// openSession loads the recipe and connects the optional reporting sinks.
// The returned cleanup releases everything it opened.
func openSession(ctx context.Context, cmd *cli.Command) (*rollout.Session, func(), error) {
	cfg, err := recipe.Load(cmd.String("recipe"))
	if err != nil {
		return nil, nil, err
	}
	if p := cmd.String("docker-path"); p != "" {
		cfg.SetDockerPath(p)
	}
	if socket := cmd.String("mesh-socket"); socket != "" {
		if err := discovery.Register(ctx, cfg, wgmesh.NewClient(socket), cmd.String("mesh-port")); err != nil {
			return nil, nil, err
		}
	}

	var opts []fleet.Option
	if cmd.IsSet("parallelism") {
		opts = append(opts, fleet.WithParallelism(int(cmd.Int("parallelism"))))
	}
	pool := engine.NewPool()
	s, err := rollout.NewSession(cfg, pool, opts...)
	if err != nil {
		return nil, nil, err
	}
	s.Auth = engine.RegistryAuth{
		Username: cmd.String("registry-user"),
		Password: cmd.String("registry-password"),
	}

	cleanup := func() {
		if err := pool.CloseAll(); err != nil {
			log.Logger.Warn().Err(err).Msg("closing engine clients")
		}
		if err := s.Publisher.Close(); err != nil {
			log.Logger.Warn().Err(err).Msg("closing nats connection")
		}
		if s.Store != nil {
			_ = s.Store.Close()
		}
	}

	if url := cmd.String("nats-url"); url != "" {
		nc, err := messaging.Connect(url)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		s.Publisher = messaging.NewPublisher(nc)
	}
	if path := cmd.String("history-db"); path != "" {
		store, err := db.Open(path)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		s.Store = store
	}
	return s, cleanup, nil
}

func runPull(ctx context.Context, cmd *cli.Command) error {
	s, cleanup, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := s.Pull(ctx)
	if report != nil {
		printReport(report)
	}
	return err
}

func runCLI(action dockercli.Action) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		s, cleanup, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		req := rollout.CLIRequest{Action: action, ContainerID: cmd.Args().First()}
		if action == dockercli.Login {
			req.Credentials = dockercli.Credentials{
				Email:    cmd.String("email"),
				User:     cmd.String("username"),
				Password: cmd.String("password"),
			}
		}
		_, err = s.CLI(ctx, req)
		return err
	}
}

func runTags(ctx context.Context, cmd *cli.Command) error {
	s, cleanup, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	tags, err := s.Tags(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tTAGS")
	for _, st := range tags {
		fmt.Fprintf(w, "%s\t%v\n", st.Server, st.Tags)
	}
	return w.Flush()
}

func runDeploy(ctx context.Context, cmd *cli.Command) error {
	s, cleanup, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	name := cmd.String("name")
	if name == "" {
		name = containerName(s.Config.Image)
	}
	deployed, report, err := s.Deploy(ctx, name)
	for _, d := range deployed {
		port := d.PublicPort
		if port == "" {
			port = "-"
		}
		fmt.Printf("%s\t%s\t%s\n", d.Host, d.ContainerID, port)
	}
	if report != nil && err != nil {
		printReport(report)
	}
	return err
}

func runHosts(ctx context.Context, cmd *cli.Command) error {
	s, cleanup, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tENDPOINT\tENV OVERRIDES\tPORT OVERRIDES")
	for _, h := range s.Group.All() {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", h.Hostname, h.CLI().Host(), len(h.Options.EnvVars), len(h.Options.PortBindings))
	}
	return w.Flush()
}

func runHistoryServe(ctx context.Context, cmd *cli.Command) error {
	store, err := db.Open(cmd.String("history-db"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	natsURL := cmd.String("nats-url")
	if addr := cmd.String("nats-listen"); addr != "" {
		ns, err := messaging.StartEmbedded(addr)
		if err != nil {
			return err
		}
		defer ns.Shutdown()
		natsURL = ns.ClientURL()
	}
	if natsURL != "" {
		nc, err := messaging.Connect(natsURL)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Close()
		if _, err := history.Subscribe(nc, store); err != nil {
			return fmt.Errorf("failed to subscribe to run reports: %w", err)
		}
	}

	addr := cmd.String("http-addr")
	srv := &http.Server{Addr: addr, Handler: history.NewRouter(store), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	l := log.WithComponent("history")
	l.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func printReport(r *messaging.RunReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, h := range r.Hosts {
		status := "ok"
		if !h.Success {
			status = "FAILED: " + h.Message
		}
		fmt.Fprintf(w, "%s\t%s\n", h.Host, status)
	}
	_ = w.Flush()
}
