package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/recall/internal/api/handlers"
	"github.com/cloo-solutions/recall/internal/database"
	"github.com/cloo-solutions/recall/internal/mcp"
	"github.com/cloo-solutions/recall/internal/service"
)

// RecoverCmd returns the recover command
func RecoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Re-index documents left dirty by interrupted runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, log, err := runtime(cmd)
			if err != nil {
				return err
			}
			defer initTelemetry(cfg, log)()

			app, err := bootstrap(ctx, cfg, log, bootOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			all, _ := cmd.Flags().GetBool("all")
			total := service.RecoveryReport{}
			for {
				report, err := app.Orchestrator.RecoverDirty(ctx)
				if err != nil {
					return fmt.Errorf("failed to recover dirty documents: %w", err)
				}
				total = addReports(total, report)
				if !all || report.Skipped || report.Listed == 0 || report.Complete == 0 {
					break
				}
			}
			return printJSON(cmd.OutOrStdout(), total)
		},
	}

	cmd.Flags().Bool("all", false, "Keep sweeping batches while documents are being indexed")

	return cmd
}

func addReports(a, b service.RecoveryReport) service.RecoveryReport {
	return service.RecoveryReport{
		Listed:   a.Listed + b.Listed,
		Complete: a.Complete + b.Complete,
		Partial:  a.Partial + b.Partial,
		Failed:   a.Failed + b.Failed,
		Skipped:  a.Skipped || b.Skipped,
	}
}

// ClusterCmd returns the cluster command
func ClusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Rebuild the cluster tier if it is due",
		Long:  "Rebuild the layer-3 cluster summaries. --force skips the minimum interval but no other check.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, log, err := runtime(cmd)
			if err != nil {
				return err
			}
			defer initTelemetry(cfg, log)()

			app, err := bootstrap(ctx, cfg, log, bootOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			force, _ := cmd.Flags().GetBool("force")
			run, err := app.Clusters.MaybeRun(ctx, force)
			if err != nil {
				return err
			}

			resp := handlers.ClusterRunResponse{Ran: run.Ran, Reason: run.Reason, ArchiveKey: run.ArchiveKey}
			if run.Snapshot != nil {
				resp.Documents = run.Snapshot.Documents
				resp.K = run.Snapshot.K
				resp.FailedClusters = run.Snapshot.FailedClusters
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().Bool("force", false, "Ignore the minimum interval since the last rebuild")

	return cmd
}

// SearchCmd returns the search command
func SearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid search and print the ranked notes as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, log, err := runtime(cmd)
			if err != nil {
				return err
			}

			app, err := bootstrap(ctx, cfg, log, bootOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			results := app.Search.Search(ctx, strings.Join(args, " "))
			return printJSON(cmd.OutOrStdout(), handlers.ToSearchResponse(results))
		},
	}
}

// ContextCmd returns the context command
func ContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context <query>",
		Short: "Retrieve grounding notes for a question and print them as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seedLimit, _ := cmd.Flags().GetInt("seed-limit")
			if seedLimit < 0 {
				return errors.New("--seed-limit must not be negative")
			}

			ctx, cfg, log, err := runtime(cmd)
			if err != nil {
				return err
			}

			app, err := bootstrap(ctx, cfg, log, bootOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			items := app.Search.RetrieveContext(ctx, strings.Join(args, " "), seedLimit)
			return printJSON(cmd.OutOrStdout(), handlers.ToContextResponse(items))
		},
	}

	cmd.Flags().Int("seed-limit", 8, "Number of search hits to expand through links and entities")

	return cmd
}

// MCPCmd returns the mcp command
func MCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the retrieval tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, log, err := runtime(cmd)
			if err != nil {
				return err
			}
			defer initTelemetry(cfg, log)()

			app, err := bootstrap(ctx, cfg, log, bootOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			srv := mcp.NewServer(mcp.ServerConfig{Search: app.Search, Version: version})
			return mcp.Serve(ctx, srv, os.Stdin, cmd.OutOrStdout())
		},
	}
}

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, _, err := runtime(cmd)
			if err != nil {
				return err
			}
			source, _ := cmd.Flags().GetString("source")
			return database.Migrate(ctx, cfg.DatabaseURL, source)
		},
	}

	cmd.Flags().String("source", database.DefaultMigrationsSource, "Migration source URL")

	return cmd
}

// VerifyCmd returns the verify command
func VerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that every chunk has exactly one embedding and vice versa",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, log, err := runtime(cmd)
			if err != nil {
				return err
			}

			app, err := bootstrap(ctx, cfg, log, bootOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			if !app.Vectors.IsVectorIndexLoaded() {
				return errors.New("vector index not loaded; nothing to verify")
			}

			report, err := app.Chunks.CountOrphans(ctx)
			if err != nil {
				return fmt.Errorf("failed to count orphans: %w", err)
			}
			if err := printJSON(cmd.OutOrStdout(), orphanReportJSON(report)); err != nil {
				return err
			}
			return checkOrphans(report)
		},
	}
}

type orphanReport struct {
	ChunksWithoutEmbedding int `json:"chunks_without_embedding"`
	EmbeddingsWithoutChunk int `json:"embeddings_without_chunk"`
}

func orphanReportJSON(r service.OrphanReport) orphanReport {
	return orphanReport{
		ChunksWithoutEmbedding: r.ChunksWithoutEmbedding,
		EmbeddingsWithoutChunk: r.EmbeddingsWithoutChunk,
	}
}

func checkOrphans(r service.OrphanReport) error {
	if r.Clean() {
		return nil
	}
	return fmt.Errorf("index inconsistent: %d chunks without embedding, %d embeddings without chunk",
		r.ChunksWithoutEmbedding, r.EmbeddingsWithoutChunk)
}
