package main

import (
	"context"
	"fmt"
	"time"

	"github.com/HerbHall/jump/internal/relay"
	"github.com/HerbHall/jump/internal/server"
	"github.com/HerbHall/jump/internal/version"
	"github.com/HerbHall/jump/internal/ws"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

const shutdownTimeout = 10 * time.Second

func newBridgeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Serve live client state to renderers",
		Long: "Keep the device list loaded and stream snapshots, notifications and wake\n" +
			"indicators over /ws. Renderers send wake, delete, dismiss and refresh\n" +
			"commands on the same socket or through /api/v1. When relay.nats_url is\n" +
			"set, every state change is also published to NATS.",
		Args: cobra.NoArgs,
		RunE: withApp(appOptions{bus: true}, func(cmd *cobra.Command, a *app, _ []string) error {
			if cmd.Flags().Changed("listen") {
				a.cfg.Bridge.Listen = listen
			}
			return runBridge(cmd.Context(), a)
		}),
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (overrides bridge.listen)")
	return cmd
}

func runBridge(ctx context.Context, a *app) error {
	logger := a.logger
	logger.Info("jump bridge starting", zap.String("version", version.Short()))

	if a.cfg.Relay.Enabled() {
		nc, err := relay.Dial(a.cfg.Relay, logger.Named("relay"))
		if err != nil {
			return err
		}
		defer relay.Drain(nc, logger.Named("relay"))
		r := relay.New(nc, a.cfg.Relay.Subject, logger.Named("relay"))
		r.Attach(a.bus)
		defer r.Close()
		logger.Info("relay attached", zap.String("subject", a.cfg.Relay.Subject))
	}

	bridge := server.NewBridge(a.devices, clock.RealClock{}, a.cfg.Bridge, logger.Named("bridge"))
	wsHandler := ws.NewHandler(a.bus, bridge.Commands(), bridge.Snapshot, logger.Named("ws"))
	defer wsHandler.Close()
	srv := server.New(a.cfg.Bridge, logger.Named("server"), bridge.Ready, wsHandler, bridge)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		if _, err := a.devices.List(gctx); err != nil && gctx.Err() == nil {
			logger.Warn("initial device load failed", zap.Error(err))
		}
		return bridge.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	fmt.Fprintf(a.errOut, "jump bridge %s listening on %s\n", version.Short(), a.cfg.Bridge.Listen)
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("jump bridge stopped")
	return nil
}
