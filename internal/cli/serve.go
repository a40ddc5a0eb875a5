package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/GPU-Broker/internal/server"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/metrics"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/ranker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the GPU Broker HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	listen, _ := cmd.Flags().GetString("listen")
	if listen != "" {
		cfg.Server.Listen = listen
	}

	logger := newLogger(cfg, os.Stderr)
	meter := metrics.New()

	e, err := initEngine(cmd.Context(), cfg, logger, ranker.MultiMeter{meter, ranker.NewLogMeter(logger)})
	if err != nil {
		return err
	}
	defer e.Close()

	pub, err := initPublisher(cfg, logger)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithMetrics(meter.Handler()),
		server.WithMaxBodySize(cfg.Server.MaxBodySize),
	}
	if e.store != nil {
		opts = append(opts, server.WithTraceStore(e.store))
	}
	if pub != nil {
		opts = append(opts, server.WithPublisher(pub))
	}
	apiServer := server.NewServer(e.ranker, e.registry, logger, opts...)

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "listen", cfg.Server.Listen, "providers", e.registry.Len())
		fmt.Fprintf(os.Stderr, "GPU Broker listening on %s\n", cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}
