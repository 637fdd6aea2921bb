package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/credit-pipeline/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves report uploads, monitoring queries, alert acknowledgment, health, and Prometheus metrics. Background alert checks and durable mirroring run until shutdown.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := server.Options{Breakers: env.Breakers, Gatherer: env.Registry}
		if env.Store != nil {
			opts.Store = env.Store
		}
		srv := server.New(cfg, env.Pipeline, env.Monitor, opts)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return env.Monitor.Run(gctx) })
		g.Go(func() error { return srv.ListenAndServe(gctx) })
		err = g.Wait()

		// Drain pending mirror writes before the store closes.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		env.Monitor.Flush(fctx)
		zap.L().Info("server stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
