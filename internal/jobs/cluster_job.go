package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cloo-solutions/recall/internal/logging"
	"github.com/cloo-solutions/recall/internal/service"
)

// ClusterRunner is the gated cluster rebuild.
type ClusterRunner interface {
	MaybeRun(ctx context.Context, force bool) (service.ClusterRun, error)
}

// ClusterJob asks the builder to rebuild on every tick; the builder's gate
// decides whether anything happens.
type ClusterJob struct {
	builder ClusterRunner
}

func NewClusterJob(builder ClusterRunner) *ClusterJob {
	return &ClusterJob{builder: builder}
}

func (j *ClusterJob) ProcessJobs(ctx context.Context) error {
	run, err := j.builder.MaybeRun(ctx, false)
	if errors.Is(err, service.ErrNoClustersStaged) {
		logging.FromContext(ctx).Warn("cluster rebuild produced no clusters")
		return nil
	}
	if err != nil {
		return err
	}
	if !run.Ran {
		logging.FromContext(ctx).Debug("cluster rebuild not due", slog.String("reason", run.Reason))
	}
	return nil
}
