package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/recall/internal/api/handlers"
	"github.com/cloo-solutions/recall/internal/jobs"
	"github.com/cloo-solutions/recall/internal/logging"
	"github.com/cloo-solutions/recall/internal/server"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and background workers",
		Long:  "Start the HTTP API, recover dirty documents and run the periodic cluster builder",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides RECALL_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cfg, log, err := runtime(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer initTelemetry(cfg, log)()

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")

	spawner := jobs.NewGoSpawner(ctx)
	app, err := bootstrap(ctx, cfg, log, bootOptions{migrate: !noMigrate, spawner: spawner})
	if err != nil {
		return err
	}
	defer app.Close()

	recoveryWorker := jobs.NewWorker("recovery", jobs.NewRecoveryJob(app.Orchestrator), cfg.RecoveryInterval, true)
	clusterWorker := jobs.NewWorker("cluster", jobs.NewClusterJob(app.Clusters), cfg.ClusterPollInterval, false)
	go recoveryWorker.Start(ctx)
	go clusterWorker.Start(ctx)

	router := server.NewRouter(server.RouterConfig{
		APIKey:          cfg.APIKey,
		Logger:          log,
		Metrics:         app.Metrics,
		Gatherer:        app.Registry,
		DB:              app.Pool,
		DocumentHandler: handlers.NewDocumentHandler(app.Documents),
		SearchHandler:   handlers.NewSearchHandler(app.Search),
		ClusterHandler:  handlers.NewClusterHandler(app.Clusters),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", logging.Err(err))
	}
	recoveryWorker.Stop()
	clusterWorker.Stop()
	if err := spawner.Wait(shutdownCtx); err != nil {
		log.Warn("background tasks still running at exit", logging.Err(err))
	}

	log.Info("server exited")
	return nil
}
