package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/raycarroll/edgefleet/pkg/api"
	"github.com/raycarroll/edgefleet/pkg/backend"
	"github.com/raycarroll/edgefleet/pkg/config"
	"github.com/raycarroll/edgefleet/pkg/engine"
	"github.com/raycarroll/edgefleet/pkg/logger"
	"github.com/raycarroll/edgefleet/pkg/stream"
	"github.com/raycarroll/edgefleet/pkg/telemetry"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine, the HTTP API and optionally the virtual node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&opts.listen, "listen", "", "HTTP API listen address")
	cmd.Flags().BoolVar(&opts.virtualNode, "virtual-node", false, "register the fleet as a Virtual Kubelet node")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	log := logger.WithPrefix("[main] ")
	log.Info("Starting edgefleet %s", version)

	client, err := backend.NewClient(cfg.Backend.Client())
	if err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		log.Warn("Backend is not reachable yet: %v", err)
	} else {
		log.Info("Connected to backend at %s", cfg.Backend.URL)
	}

	metrics := telemetry.New()
	eng := engine.New(engine.Options{
		HistoryCapacity: cfg.History.Capacity,
		PollInterval:    cfg.Poll.Interval,
		Simulation:      cfg.Simulation.Lifecycle(),
		Backoff:         cfg.Stream.Backoff.Wait(),
		WriteThrough:    cfg.Backend.WriteThrough,
		Backend:         client,
		Transport: stream.New(cfg.Stream.URL,
			stream.WithBearerToken(cfg.Backend.Token),
			stream.WithInsecureTLS(cfg.Backend.InsecureTLS),
		),
		Metrics: metrics,
	})
	defer eng.Dispose()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return api.New(eng, metrics.Registry).Run(ctx, cfg.API.Listen) })

	if cfg.VirtualNode.Enabled {
		node, err := newVirtualNode(ctx, cfg.VirtualNode.Name, eng)
		if err != nil {
			return err
		}
		g.Go(func() error {
			log.Info("Starting Virtual Kubelet node controller...")
			return node.Run(ctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("Shutdown complete")
	return err
}
