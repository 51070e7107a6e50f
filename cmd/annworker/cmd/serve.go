package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/annworker/internal/config"
	"github.com/Aman-CERP/annworker/internal/metrics"
	"github.com/Aman-CERP/annworker/internal/transport"
	"github.com/Aman-CERP/annworker/internal/worker"
)

func newServeCmd() *cobra.Command {
	var (
		transportName string
		addr          string
		origins       []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the worker protocol to a host",
		Long: `Serve the worker protocol.

With --transport stdio (default) requests are read as JSON lines on stdin
and responses and events are written as JSON lines on stdout.

With --transport websocket the worker listens on --addr and serves the
protocol at /ws, liveness at /health and Prometheus metrics at /metrics.`,
		Example: `  annworker serve
  annworker serve --transport websocket --addr 127.0.0.1:7701`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("transport") {
				cfg.Server.Transport = transportName
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cfg, origins)
		},
	}

	cmd.Flags().StringVar(&transportName, "transport", config.TransportStdio, "Transport: stdio or websocket")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address for the websocket transport")
	cmd.Flags().StringSliceVar(&origins, "allow-origin", nil, "Allowed browser origin (repeatable; default any)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, origins []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Server.Metrics {
		m = metrics.New()
	}

	rt, err := worker.Open(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Warn("runtime_close_failed", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker_started",
		slog.String("transport", cfg.Server.Transport),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("storage_dir", cfg.Storage.Dir),
		slog.String("embedder", cfg.Embeddings.Provider))

	switch cfg.Server.Transport {
	case config.TransportStdio:
		conn := transport.NewStdioConn(os.Stdin, os.Stdout)
		defer func() { _ = conn.Close() }()
		return rt.Dispatcher.Serve(ctx, conn)
	case config.TransportWebSocket:
		srv := transport.NewWebSocketServer(rt.Dispatcher, transport.WebSocketOptions{
			Addr:           cfg.Server.Addr,
			AllowedOrigins: origins,
			Metrics:        m,
		})
		return srv.ListenAndServe(ctx)
	default:
		return fmt.Errorf("unknown transport %q", cfg.Server.Transport)
	}
}
