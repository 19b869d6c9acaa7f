package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cloo-solutions/recall/internal/logging"
	"github.com/cloo-solutions/recall/internal/telemetry"
)

// GoSpawner runs each task on its own goroutine under a shared base context.
// Panics are recovered, logged and reported. Wait blocks until every task
// has returned.
type GoSpawner struct {
	ctx context.Context
	wg  sync.WaitGroup
}

func NewGoSpawner(ctx context.Context) *GoSpawner {
	return &GoSpawner{ctx: context.WithoutCancel(ctx)}
}

func (s *GoSpawner) Spawn(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := logging.WithLogger(s.ctx, logging.FromContext(s.ctx).With(slog.String("task", name)))
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("task %s panicked: %v", name, r)
				logging.FromContext(ctx).Error("background task panicked", logging.Err(err))
				telemetry.CaptureError(ctx, err)
			}
		}()
		fn(ctx)
	}()
}

// Wait blocks until all spawned tasks finish or ctx is done.
func (s *GoSpawner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InlineSpawner runs tasks synchronously on the caller's goroutine.
type InlineSpawner struct {
	Ctx context.Context
}

func (s InlineSpawner) Spawn(_ string, fn func(ctx context.Context)) {
	ctx := s.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	fn(ctx)
}
