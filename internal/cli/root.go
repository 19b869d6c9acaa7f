package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/recall/internal/config"
	"github.com/cloo-solutions/recall/internal/logging"
	"github.com/cloo-solutions/recall/internal/telemetry"
)

var version = "dev"

// NewRootCmd builds the recalld command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "recalld",
		Short: "Personal knowledge base retrieval engine",
		Long: `recalld keeps a layered embedding index in step with your notes and answers
relevance queries over it.

Configuration is read from RECALL_* environment variables (and an optional .env).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(RecoverCmd())
	rootCmd.AddCommand(ClusterCmd())
	rootCmd.AddCommand(SearchCmd())
	rootCmd.AddCommand(ContextCmd())
	rootCmd.AddCommand(MCPCmd())
	rootCmd.AddCommand(MigrateCmd())
	rootCmd.AddCommand(VerifyCmd())

	return rootCmd
}

// runtime loads configuration and installs the process logger.
func runtime(cmd *cobra.Command) (context.Context, *config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logging.New(cfg.LogLevel(), cfg.LogFormat)
	slog.SetDefault(log)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return logging.WithLogger(ctx, log), cfg, log, nil
}

// initTelemetry starts Sentry when a DSN is configured and returns its flush.
func initTelemetry(cfg *config.Config, log *slog.Logger) func() {
	if !cfg.HasSentry() {
		return func() {}
	}

	// 10% sampling outside development
	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}

	shutdown, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	}, log)
	if err != nil {
		log.Warn("telemetry init failed, continuing without tracing", logging.Err(err))
		return func() {}
	}
	return shutdown
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
