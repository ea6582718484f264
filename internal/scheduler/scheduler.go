package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/wind-field-service/internal/cache"
)

// DefaultPruneInterval is how often the cache directory is swept when retention is enabled.
const DefaultPruneInterval = time.Hour

// Warmer prefetches wind fields for a set of pressure levels.
type Warmer interface {
	Warm(ctx context.Context, levels []int) error
}

// Options configures the background jobs. Zero values take defaults.
type Options struct {
	WarmLevels    []int
	WarmInterval  time.Duration
	WarmTimeout   time.Duration
	Retention     time.Duration // 0 disables pruning
	PruneInterval time.Duration
}

// Scheduler runs cache warming and pruning in the background.
type Scheduler struct {
	scheduler *gocron.Scheduler
	warmer    Warmer
	pruner    cache.Pruner
	opts      Options
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a Scheduler. warmer or pruner may be nil to skip that job.
func New(warmer Warmer, pruner cache.Pruner, opts Options, logger *zap.Logger) *Scheduler {
	if opts.WarmInterval <= 0 {
		opts.WarmInterval = time.Hour
	}
	if opts.WarmTimeout <= 0 {
		opts.WarmTimeout = 10 * time.Minute
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = DefaultPruneInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		warmer:    warmer,
		pruner:    pruner,
		opts:      opts,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the enabled jobs and starts the underlying scheduler. Jobs first run immediately.
func (s *Scheduler) Start() error {
	if s.warmer != nil && len(s.opts.WarmLevels) > 0 {
		if _, err := s.scheduler.Every(s.opts.WarmInterval).Do(s.warm); err != nil {
			return err
		}
	}
	if s.pruner != nil && s.opts.Retention > 0 {
		if _, err := s.scheduler.Every(s.opts.PruneInterval).Do(s.prune); err != nil {
			return err
		}
	}
	if s.scheduler.Len() == 0 {
		s.logger.Info("scheduler: no background jobs configured")
		return nil
	}
	s.logger.Info("scheduler started",
		zap.Ints("warm_levels", s.opts.WarmLevels),
		zap.Duration("warm_interval", s.opts.WarmInterval),
		zap.Duration("retention", s.opts.Retention))
	s.scheduler.StartAsync()
	return nil
}

// Stop cancels running jobs and stops the scheduler.
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
}

// Jobs reports how many jobs are scheduled.
func (s *Scheduler) Jobs() int {
	return s.scheduler.Len()
}

func (s *Scheduler) warm() {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.WarmTimeout)
	defer cancel()
	if err := s.warmer.Warm(ctx, s.opts.WarmLevels); err != nil {
		s.logger.Warn("scheduled cache warming failed", zap.Error(err))
	}
}

func (s *Scheduler) prune() {
	_ = cache.PruneOnce(s.ctx, s.pruner, s.opts.Retention, s.logger)
}
