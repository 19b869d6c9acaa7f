package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/kmeans"
	"github.com/cloo-solutions/recall/internal/logging"
	"github.com/cloo-solutions/recall/internal/metrics"
	"github.com/cloo-solutions/recall/internal/telemetry"
)

// ClusterStateKey is the index_state key holding the last completed rebuild.
const ClusterStateKey = "cluster.last_run"

// ErrNoClustersStaged is returned when every cluster failed; layer 3 is left
// as it was and the last-run time does not advance.
var ErrNoClustersStaged = errors.New("no cluster could be summarized")

// ClusterConfig holds the rebuild thresholds.
type ClusterConfig struct {
	MinInterval     time.Duration
	MinSummaries    int
	MinK            int
	MaxK            int
	Representatives int
	Rand            *rand.Rand
}

func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		MinInterval:     23 * time.Hour,
		MinSummaries:    5,
		MinK:            2,
		MaxK:            20,
		Representatives: 5,
	}
}

func (c ClusterConfig) withDefaults() ClusterConfig {
	d := DefaultClusterConfig()
	if c.MinInterval <= 0 {
		c.MinInterval = d.MinInterval
	}
	if c.MinSummaries <= 0 {
		c.MinSummaries = d.MinSummaries
	}
	if c.MinK <= 0 {
		c.MinK = d.MinK
	}
	if c.MaxK < c.MinK {
		c.MaxK = d.MaxK
	}
	if c.Representatives <= 0 {
		c.Representatives = d.Representatives
	}
	return c
}

// ClusterRun reports what MaybeRun did. Reason is set when it did not rebuild.
type ClusterRun struct {
	Ran        bool
	Reason     string
	Snapshot   *domain.ClusterSnapshot
	ArchiveKey string
}

// ClusterBuilder rebuilds layer 3 from the layer-2 summaries.
type ClusterBuilder struct {
	chunks    ChunkRepositoryInterface
	providers Providers
	vectors   VectorIndexProbe
	gate      *Gate
	archive   ClusterArchive
	metrics   *metrics.Metrics
	cfg       ClusterConfig
}

func NewClusterBuilder(
	chunks ChunkRepositoryInterface,
	providers Providers,
	vectors VectorIndexProbe,
	gate *Gate,
	archive ClusterArchive,
	m *metrics.Metrics,
	cfg ClusterConfig,
) *ClusterBuilder {
	return &ClusterBuilder{
		chunks:    chunks,
		providers: providers,
		vectors:   vectors,
		gate:      gate,
		archive:   archive,
		metrics:   m,
		cfg:       cfg.withDefaults(),
	}
}

// clusterCount is round(sqrt(n/2)) clamped to [lo, hi].
func clusterCount(n, lo, hi int) int {
	k := int(math.Round(math.Sqrt(float64(n) / 2)))
	if k < lo {
		k = lo
	}
	if k > hi {
		k = hi
	}
	return k
}

// MaybeRun rebuilds layer 3 when every gate passes, cheapest check first.
// force bypasses only the minimum interval.
func (b *ClusterBuilder) MaybeRun(ctx context.Context, force bool) (ClusterRun, error) {
	log := logging.FromContext(ctx)

	if !b.vectors.IsVectorIndexLoaded() {
		return b.skip(ctx, "vector index not loaded"), nil
	}
	if !b.providers.HasEmbeddingCredentials() || !b.providers.HasCompletionCredentials() {
		return b.skip(ctx, "provider credentials missing"), nil
	}
	n, err := b.chunks.CountLayer(ctx, domain.LayerSummary)
	if err != nil {
		b.metrics.ClusterRun(metrics.OutcomeError)
		return ClusterRun{}, fmt.Errorf("count summaries: %w", err)
	}
	if n < b.cfg.MinSummaries {
		return b.skip(ctx, fmt.Sprintf("only %d summaries", n)), nil
	}

	lease, ok, err := b.gate.TryAcquire(ctx, b.cfg.MinInterval, force)
	if err != nil {
		b.metrics.ClusterRun(metrics.OutcomeError)
		return ClusterRun{}, err
	}
	if !ok {
		return b.skip(ctx, "already running or ran recently"), nil
	}
	defer lease.Release()

	ctx, span := telemetry.StartSpan(ctx, "cluster.rebuild", telemetry.Stage("cluster"))
	defer span.End()

	snapshot, err := b.rebuild(ctx)
	if errors.Is(err, ErrNoClustersStaged) {
		// Every theme call failed, usually a provider outage. Counting the
		// attempt as a run keeps the poller from re-embedding every summary
		// each tick until the provider recovers.
		if cerr := lease.Complete(ctx, b.gate.Now().UTC()); cerr != nil {
			log.Warn("record cluster run failed", logging.Err(cerr))
		}
	}
	if err != nil {
		span.Fail(err)
		b.metrics.ClusterRun(metrics.OutcomeError)
		return ClusterRun{}, err
	}

	if err := lease.Complete(ctx, snapshot.BuiltAt); err != nil {
		log.Warn("record cluster run failed", logging.Err(err))
	}
	b.metrics.ClusterRun(metrics.OutcomeOK)

	run := ClusterRun{Ran: true, Snapshot: snapshot}
	if b.archive != nil {
		key, err := b.archive.Archive(ctx, snapshot)
		if err != nil {
			log.Warn("archive cluster snapshot failed", logging.Err(err))
		} else {
			run.ArchiveKey = key
		}
	}

	log.Info("clusters rebuilt",
		slog.Int("documents", snapshot.Documents),
		slog.Int("k", snapshot.K),
		slog.Int("themes", len(snapshot.Themes)),
		slog.Int("failed_clusters", snapshot.FailedClusters))
	return run, nil
}

func (b *ClusterBuilder) skip(ctx context.Context, reason string) ClusterRun {
	logging.FromContext(ctx).Debug("cluster rebuild skipped", slog.String("reason", reason))
	b.metrics.ClusterRun(metrics.OutcomeSkipped)
	return ClusterRun{Reason: reason}
}

func (b *ClusterBuilder) rebuild(ctx context.Context) (*domain.ClusterSnapshot, error) {
	log := logging.FromContext(ctx)

	summaries, err := b.chunks.ListLayer(ctx, domain.LayerSummary)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	texts := make([]string, len(summaries))
	for i, s := range summaries {
		texts[i] = s.Text
	}

	points, err := b.providers.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed summaries: %w", err)
	}
	if len(points) != len(summaries) {
		return nil, fmt.Errorf("embed summaries: %w", domain.ErrMalformedResponse)
	}

	k := clusterCount(len(points), b.cfg.MinK, b.cfg.MaxK)
	result := kmeans.Cluster(points, k, kmeans.Options{Rand: b.cfg.Rand})

	snapshot := &domain.ClusterSnapshot{Documents: len(summaries), K: result.K()}
	var staged []domain.StagedChunk

	for c := 0; c < result.K(); c++ {
		members := result.Members(c)
		if len(members) == 0 {
			continue
		}

		reps := result.Representatives(points, c, b.cfg.Representatives)
		repTexts := make([]string, len(reps))
		for i, idx := range reps {
			repTexts[i] = summaries[idx].Text
		}

		theme, vector, err := b.describe(ctx, repTexts)
		if err != nil {
			log.Warn("cluster skipped", slog.Int("cluster", c), logging.Err(err))
			snapshot.FailedClusters++
			continue
		}

		memberIDs := make([]string, len(members))
		for i, idx := range members {
			memberIDs[i] = summaries[idx].DocumentID
		}
		encoded, err := domain.EncodeMemberIDs(memberIDs)
		if err != nil {
			snapshot.FailedClusters++
			continue
		}

		position := len(staged)
		staged = append(staged, domain.StagedChunk{
			Chunk:  domain.Chunk{Text: theme, ContextText: encoded, Position: position},
			Vector: vector,
		})
		snapshot.Themes = append(snapshot.Themes, domain.ClusterTheme{
			Position:  position,
			Theme:     theme,
			MemberIDs: memberIDs,
		})
	}

	if len(staged) == 0 {
		return nil, ErrNoClustersStaged
	}
	if err := b.chunks.ReplaceLayer(ctx, domain.LayerCluster, staged); err != nil {
		return nil, fmt.Errorf("replace cluster layer: %w", err)
	}

	snapshot.BuiltAt = b.gate.Now().UTC()
	return snapshot, nil
}

// describe asks for a theme over the representative summaries and embeds it.
func (b *ClusterBuilder) describe(ctx context.Context, summaries []string) (string, []float32, error) {
	theme, err := b.providers.Complete(ctx, themeSystemPrompt, themePrompt(summaries))
	if err != nil {
		return "", nil, fmt.Errorf("describe cluster: %w", err)
	}
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return "", nil, fmt.Errorf("describe cluster: %w", domain.ErrMalformedResponse)
	}
	vectors, err := b.providers.Embed(ctx, []string{theme})
	if err != nil {
		return "", nil, fmt.Errorf("embed theme: %w", err)
	}
	if len(vectors) != 1 {
		return "", nil, fmt.Errorf("embed theme: %w", domain.ErrMalformedResponse)
	}
	return theme, vectors[0], nil
}

// ListThemes returns the current layer-3 clusters. Rows whose member list
// cannot be decoded are returned with no members.
func (b *ClusterBuilder) ListThemes(ctx context.Context) ([]domain.ClusterTheme, error) {
	chunks, err := b.chunks.ListLayer(ctx, domain.LayerCluster)
	if err != nil {
		return nil, err
	}
	themes := make([]domain.ClusterTheme, 0, len(chunks))
	for _, c := range chunks {
		members, err := domain.DecodeMemberIDs(c.ContextText)
		if err != nil {
			members = nil
		}
		themes = append(themes, domain.ClusterTheme{
			ChunkID:   c.ID,
			Position:  c.Position,
			Theme:     c.Text,
			MemberIDs: members,
		})
	}
	return themes, nil
}
