package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloo-solutions/recall/internal/logging"
)

// JobProcessor is one unit of periodic background work.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker runs a JobProcessor on a fixed interval until stopped.
type Worker struct {
	name         string
	processor    JobProcessor
	pollInterval time.Duration
	runAtStart   bool
	stopChan     chan struct{}
	doneChan     chan struct{}
}

// NewWorker creates a Worker. When runAtStart is set the processor runs once
// before the first tick.
func NewWorker(name string, processor JobProcessor, pollInterval time.Duration, runAtStart bool) *Worker {
	return &Worker{
		name:         name,
		processor:    processor,
		pollInterval: pollInterval,
		runAtStart:   runAtStart,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start blocks in the polling loop until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	log := logging.FromContext(ctx).With(slog.String("worker", w.name))
	ctx = logging.WithLogger(ctx, log)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Info("worker started", slog.Duration("poll_interval", w.pollInterval))

	if w.runAtStart {
		w.run(ctx, log)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped: context cancelled")
			return
		case <-w.stopChan:
			log.Info("worker stopped: stop signal received")
			return
		case <-ticker.C:
			w.run(ctx, log)
		}
	}
}

func (w *Worker) run(ctx context.Context, log *slog.Logger) {
	if err := w.processor.ProcessJobs(ctx); err != nil {
		log.Error("worker run failed", logging.Err(err))
	}
}

// Stop signals the loop and waits for it to exit.
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
}
