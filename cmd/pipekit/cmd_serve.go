package main

import (
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/scttfrdmn/pipekit/server"
)

var serveFlags struct {
	addr string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve pipeline runs, events and metrics over HTTP",
	Long: `Starts an HTTP server:

  POST /runs/{pipeline}   run a pipeline; body {"input": "..."} or {"context": {...}}
  GET  /events            websocket stream of stage events (?run_id= filters)
  GET  /metrics           Prometheus metrics
  GET  /healthz           liveness

The server stops on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "Listen address (default: server.addr from the config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, runtimeOptions{metrics: true})
	if err != nil {
		return err
	}
	defer rt.close(cmd.Context())

	addr := serveFlags.addr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	srv := server.New(server.Config{
		Addr:      addr,
		Deps:      rt.deps,
		Metrics:   promhttp.Handler(),
		Validator: cfg.Validator(),
		Logger:    logger,
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return srv.Stop()
}
