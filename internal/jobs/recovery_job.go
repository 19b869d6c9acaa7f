package jobs

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/recall/internal/service"
)

// DirtyRecoverer re-indexes documents left dirty by an interrupted run.
type DirtyRecoverer interface {
	RecoverDirty(ctx context.Context) (service.RecoveryReport, error)
}

// RecoveryJob runs one bounded dirty-document sweep per call.
type RecoveryJob struct {
	recoverer DirtyRecoverer
}

func NewRecoveryJob(recoverer DirtyRecoverer) *RecoveryJob {
	return &RecoveryJob{recoverer: recoverer}
}

func (j *RecoveryJob) ProcessJobs(ctx context.Context) error {
	if _, err := j.recoverer.RecoverDirty(ctx); err != nil {
		return fmt.Errorf("failed to recover dirty documents: %w", err)
	}
	return nil
}
