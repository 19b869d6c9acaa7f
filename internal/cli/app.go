package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/recall/internal/config"
	"github.com/cloo-solutions/recall/internal/database"
	"github.com/cloo-solutions/recall/internal/jobs"
	"github.com/cloo-solutions/recall/internal/metrics"
	"github.com/cloo-solutions/recall/internal/openai"
	"github.com/cloo-solutions/recall/internal/repository"
	"github.com/cloo-solutions/recall/internal/service"
	"github.com/cloo-solutions/recall/internal/storage"
)

// App is the fully wired retrieval engine shared by every subcommand.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Pool         *pgxpool.Pool
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
	Vectors      *database.VectorIndex
	Providers    *openai.Registry
	Chunks       *repository.ChunkRepository
	Orchestrator *service.Orchestrator
	Search       *service.SearchEngine
	Clusters     *service.ClusterBuilder
	Documents    *service.DocumentService
}

type bootOptions struct {
	migrate bool
	spawner service.Spawner
}

// bootstrap connects to Postgres, prepares the vector index, installs
// provider credentials and builds the services.
func bootstrap(ctx context.Context, cfg *config.Config, log *slog.Logger, opts bootOptions) (*App, error) {
	if opts.migrate {
		if err := database.Migrate(ctx, cfg.DatabaseURL, ""); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBMaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("connected to database")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	vectors := database.EnsureVectorIndex(ctx, pool, cfg.EmbeddingDimensions)

	providers := openai.NewRegistry(openai.Config{
		BaseURL:             cfg.OpenAIBaseURL,
		EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
		EmbeddingDimensions: cfg.EmbeddingDimensions,
		CompletionModel:     cfg.CompletionModel,
		RequestsPerSecond:   cfg.ProviderRPS,
		Burst:               cfg.ProviderBurst,
	})
	providers.SetCredentials(openai.Credentials{
		EmbeddingKey:  cfg.EmbeddingKey(),
		CompletionKey: cfg.CompletionKey(),
	})
	log.Info("capabilities",
		slog.Bool("vector_index", vectors.IsVectorIndexLoaded()),
		slog.Bool("embedding", providers.HasEmbeddingCredentials()),
		slog.Bool("completion", providers.HasCompletionCredentials()))

	docs := repository.NewDocumentRepository(pool)
	chunks := repository.NewChunkRepository(pool)
	graph := repository.NewGraphRepository(pool)
	state := repository.NewIndexStateRepository(pool)
	tx := repository.NewTxRunner(pool)

	spawner := opts.spawner
	if spawner == nil {
		spawner = jobs.InlineSpawner{Ctx: ctx}
	}

	enricher := service.NewEnricher(docs, graph, providers, m)
	orchestrator := service.NewOrchestrator(docs, chunks, providers, vectors, enricher, spawner, m, service.PipelineConfig{
		RecoveryBatch: cfg.RecoveryBatch,
		Chunking:      service.DefaultChunkConfig(),
	})

	search := service.NewSearchEngine(docs, chunks, graph, providers, vectors, m, service.SearchConfig{
		RRFK:         cfg.RRFK,
		ClusterBoost: cfg.ClusterBoost,
	})

	clusterCfg := service.DefaultClusterConfig()
	clusterCfg.MinInterval = cfg.ClusterMinInterval
	clusters := service.NewClusterBuilder(chunks, providers, vectors,
		service.NewGate(state, service.ClusterStateKey, nil),
		clusterArchive(ctx, cfg, log), m, clusterCfg)

	documents := service.NewDocumentService(docs, graph, tx, orchestrator, vectors)

	return &App{
		Config:       cfg,
		Logger:       log,
		Pool:         pool,
		Registry:     reg,
		Metrics:      m,
		Vectors:      vectors,
		Providers:    providers,
		Chunks:       chunks,
		Orchestrator: orchestrator,
		Search:       search,
		Clusters:     clusters,
		Documents:    documents,
	}, nil
}

// clusterArchive returns nil when S3 is not configured or unreachable;
// rebuilds still run, they are just not archived.
func clusterArchive(ctx context.Context, cfg *config.Config, log *slog.Logger) service.ClusterArchive {
	if !cfg.HasS3() {
		return nil
	}

	client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		log.Warn("cluster archive disabled", slog.String("reason", "s3 client"), slog.String("error", err.Error()))
		return nil
	}
	if err := client.EnsureBucket(ctx); err != nil {
		log.Warn("cluster archive disabled", slog.String("reason", "bucket"), slog.String("error", err.Error()))
		return nil
	}
	log.Info("cluster archive ready", slog.String("bucket", cfg.S3Bucket))
	return storage.NewClusterArchive(client)
}

func (a *App) Close() {
	a.Pool.Close()
}
