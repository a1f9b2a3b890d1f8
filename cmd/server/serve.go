/*
serve.go - HTTP server startup

STARTUP SEQUENCE:
  1. Load configuration and build the logger
  2. Open the store (sqlite, postgres or memory)
  3. Build the TOIL service and start it (startup repair, open the queue)
  4. Configure the HTTP router and start listening
  5. Start the sweep scheduler

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler
  2. Stop accepting new connections, wait for active requests (30s timeout)
  3. Close the service (drain queue, flush debounced events)
  4. Close the store
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/warp/toil-ledger/api"
	"github.com/warp/toil-ledger/toil"
)

const shutdownTimeout = 30 * time.Second

func buildServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the TOIL HTTP API",
		Long: `Runs the HTTP API, the accrual calculation queue and the periodic
expiry and repair sweeps.

Examples:
  toild serve --port=3000
  toild serve --scheduler=false      # no periodic sweeps`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().Int("port", 8080, "HTTP server port")
	cmd.Flags().Bool("scheduler", true, "Run periodic expiry and repair sweeps")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := cfg.TOIL.ServiceOptions()
	opts.Logger = log
	opts.Registerer = registry
	svc := toil.New(store, opts)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Close()

	handler := api.NewHandler(svc, log)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Gatherer:       registry,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).WithField("store", cfg.Store.Driver).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	scheduler := api.NewSweepScheduler(svc, log)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.ExpirySpec = cfg.Scheduler.ExpiryCron
	scheduler.RepairSpec = cfg.Scheduler.RepairCron
	if err := scheduler.Start(); err != nil {
		_ = server.Close()
		return err
	}
	defer scheduler.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down server")
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
