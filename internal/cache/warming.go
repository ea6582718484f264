package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/wind-field-service/internal/models"
	"github.com/kjstillabower/wind-field-service/internal/observability"
)

// WindObtainer is implemented by the service layer. Used by Warmer to avoid a
// circular dependency on the service package.
type WindObtainer interface {
	Obtain(ctx context.Context, req models.TargetRequest) (models.WindDocuments, error)
}

// Warmer prefetches the latest published cycle for a set of pressure levels so
// the first client request after a new run is served from cache.
type Warmer struct {
	obtainer    WindObtainer
	clock       clockwork.Clock
	logger      *zap.Logger
	concurrency int
}

// NewWarmer creates a Warmer. concurrency bounds parallel level fetches (<=0 means 2).
func NewWarmer(obtainer WindObtainer, clock clockwork.Clock, logger *zap.Logger, concurrency int) *Warmer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Warmer{obtainer: obtainer, clock: clock, logger: logger, concurrency: concurrency}
}

// Warm obtains the current wind field for each level. All levels are attempted;
// the returned error joins every per-level failure.
func (w *Warmer) Warm(ctx context.Context, levels []int) error {
	start := w.clock.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Ints("levels", levels))
	}

	errs := make([]error, len(levels))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, level := range levels {
		i, level := i, level
		g.Go(func() error {
			req := models.TargetRequest{TargetTime: w.clock.Now(), Level: level}
			if _, err := w.obtainer.Obtain(gCtx, req); err != nil {
				// Recorded, not returned, so one level cannot cancel the others.
				errs[i] = fmt.Errorf("warm %dmb: %w", level, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	duration := w.clock.Since(start)
	observability.CacheWarmingDurationSeconds.Observe(duration.Seconds())
	if err != nil {
		observability.CacheWarmingErrorsTotal.Inc()
	}
	if w.logger != nil {
		w.logger.Info("cache warming complete",
			zap.Int("levels", len(levels)),
			zap.Bool("failed", err != nil),
			zap.Duration("duration", duration))
	}
	if err != nil {
		return fmt.Errorf("cache warming: %w", err)
	}
	return nil
}

// Pruner is implemented by caches that can drop old entries.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// PruneOnce removes entries older than retention from p and records the result.
func PruneOnce(ctx context.Context, p Pruner, retention time.Duration, logger *zap.Logger) error {
	n, err := p.Prune(ctx, retention)
	observability.CachePrunedFilesTotal.Add(float64(n))
	if logger != nil {
		if err != nil {
			logger.Warn("cache prune failed", zap.Int("removed", n), zap.Error(err))
		} else if n > 0 {
			logger.Info("cache pruned", zap.Int("removed", n), zap.Duration("retention", retention))
		}
	}
	return err
}
