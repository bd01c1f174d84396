package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/devswitch/internal/server"
	"github.com/audiolibrelab/devswitch/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the switching service with its HTTP control API",
	Long: `Start the device switching service. Default device changes reported by
the sound server switch the engine automatically, and the HTTP API accepts
switch requests, reports status and streams events over a websocket.

Prometheus metrics are served on /metrics unless server.metrics is false.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = cfg.Server.Port
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := service.New(cfg, service.Options{Logger: slog.Default()})
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}

		srv := server.New(svc, cfgFile, port)
		slog.Info("devswitch starting", "port", port, "config", cfgFile, "engine", svc.GetStatus().Engine)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Run(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			slog.Info("Shutting down, waiting for pending switches")
			return svc.Close()
		})

		if err := g.Wait(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the web server (default from server.port)")
}
