package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/wind-field-service/internal/cache"
	"github.com/kjstillabower/wind-field-service/internal/client"
	"github.com/kjstillabower/wind-field-service/internal/cycle"
	"github.com/kjstillabower/wind-field-service/internal/gridjson"
	"github.com/kjstillabower/wind-field-service/internal/models"
	"github.com/kjstillabower/wind-field-service/internal/observability"
)

// ErrDataUnavailable is returned when every forecast-hour candidate failed.
var ErrDataUnavailable = errors.New("wind data unavailable")

// DefaultFetchTimeout bounds a single forecast-hour candidate (fetch and decode).
const DefaultFetchTimeout = 60 * time.Second

// Options configures a WindService. Zero values take defaults.
type Options struct {
	Resolver        cycle.Resolver
	Clock           clockwork.Clock
	FetchTimeout    time.Duration
	CoalesceTimeout time.Duration
	Logger          *zap.Logger
}

// WindService resolves a target time to a model cycle and serves the wind documents for it,
// from cache when fresh, otherwise by fetching the cycle or one of its neighbouring forecast hours.
type WindService struct {
	fetcher      client.GridFetcher
	cache        cache.Cache
	resolver     cycle.Resolver
	clock        clockwork.Clock
	fetchTimeout time.Duration
	logger       *zap.Logger
	coalescer    *requestCoalescer
}

// NewWindService creates a WindService over fetcher and cache.
func NewWindService(fetcher client.GridFetcher, c cache.Cache, opts Options) *WindService {
	if opts.Resolver == (cycle.Resolver{}) {
		opts.Resolver = cycle.NewResolver()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &WindService{
		fetcher:      fetcher,
		cache:        c,
		resolver:     opts.Resolver,
		clock:        opts.Clock,
		fetchTimeout: opts.FetchTimeout,
		logger:       opts.Logger,
		coalescer:    newRequestCoalescer(opts.CoalesceTimeout),
	}
}

// CandidateHours is the fixed retry order around the resolved forecast hour f:
// f, f-1, f-2, f+1, f+2 with negatives clamped to 0. Duplicates are kept.
func CandidateHours(f int) []int {
	return []int{f, max(0, f-1), max(0, f-2), f + 1, f + 2}
}

// Obtain returns the u/v document pair for req. Both components are returned or neither.
func (s *WindService) Obtain(ctx context.Context, req models.TargetRequest) (models.WindDocuments, error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, s.logger)
	if req.Level == 0 {
		req.Level = models.DefaultLevel
	}
	observability.RecordWindQuery(req.Level)

	res := s.resolver.Resolve(req.TargetTime, s.clock.Now())
	for _, adj := range res.Adjustments {
		observability.CycleAdjustmentsTotal.WithLabelValues(string(adj)).Inc()
	}
	if res.Adjusted() {
		logger.Info("target adjusted",
			zap.Time("target", req.TargetTime),
			zap.Time("effective_target", res.EffectiveTarget),
			zap.Strings("adjustments", adjustmentNames(res.Adjustments)),
			zap.String("cycle", res.Cycle.String()))
	}

	key := models.NewCycleKey(res.Cycle, req.Level)
	keyStr := key.String()

	if docs, ok := s.cacheGet(ctx, logger, key); ok {
		logger.Debug("wind served",
			zap.String("key", keyStr),
			zap.Bool("cached", true),
			zap.Duration("duration", time.Since(start)))
		return docs, nil
	}

	logger.Debug("cache miss, fetching grid",
		zap.String("key", keyStr),
		zap.Float64("lat", req.Latitude),
		zap.Float64("lon", req.Longitude))

	// The shared fetch outlives any single caller; each candidate has its own deadline.
	fetchCtx := context.WithoutCancel(ctx)
	coalesceStart := time.Now()
	docs, concurrent, err := s.coalescer.GetOrDo(ctx, keyStr, func() (models.WindDocuments, error) {
		// A flight that finished between our miss and this call may already have stored the key.
		if docs, ok, err := s.cache.Get(fetchCtx, key); err == nil && ok {
			return docs, nil
		}
		return s.fetchCandidates(fetchCtx, logger, key, req.TargetTime)
	})
	shared := concurrent > 1
	if shared {
		levelLabel := observability.MetricLevelLabel(req.Level)
		observability.CacheStampedeDetectedTotal.WithLabelValues(levelLabel).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(levelLabel).Observe(float64(concurrent))
		observability.RequestCoalescingHitsTotal.WithLabelValues(levelLabel).Inc()
		observability.RequestCoalescingWaitSeconds.Observe(time.Since(coalesceStart).Seconds())
	}
	if err != nil {
		return models.WindDocuments{}, err
	}

	logger.Debug("wind served",
		zap.String("key", keyStr),
		zap.Bool("cached", false),
		zap.Bool("coalesced", shared),
		zap.Duration("duration", time.Since(start)))
	return docs, nil
}

// cacheGet reads key and records metrics. Read errors are logged and treated as a miss.
func (s *WindService) cacheGet(ctx context.Context, logger *zap.Logger, key models.CycleKey) (models.WindDocuments, bool) {
	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		logger.Warn("cache get failed", zap.String("key", key.String()), zap.Error(err))
		return models.WindDocuments{}, false
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
	if !ok {
		observability.CacheMissesTotal.WithLabelValues("wind").Inc()
		return models.WindDocuments{}, false
	}
	observability.CacheHitsTotal.WithLabelValues("wind").Inc()
	logger.Debug("cache hit", zap.String("key", key.String()))
	return cached, true
}

// fetchCandidates tries each candidate forecast hour in order and stores the first
// complete result under key. The cache is untouched when every candidate fails.
func (s *WindService) fetchCandidates(ctx context.Context, logger *zap.Logger, key models.CycleKey, target time.Time) (models.WindDocuments, error) {
	candidates := CandidateHours(key.ForecastHour)
	var lastErr error
	for i, fxx := range candidates {
		docs, err := s.fetchCandidate(ctx, key, fxx, target)
		if err != nil {
			lastErr = err
			logger.Warn("grid candidate failed",
				zap.String("key", key.String()),
				zap.Int("attempt", i+1),
				zap.Int("forecast_hour", fxx),
				zap.String("category", string(client.CategorizeError(err))),
				zap.Error(err))
			continue
		}

		if fxx != key.ForecastHour {
			observability.CandidateFallbacksTotal.WithLabelValues(strconv.Itoa(fxx - key.ForecastHour)).Inc()
			logger.Info("served neighbouring forecast hour",
				zap.String("key", key.String()),
				zap.Int("forecast_hour", fxx))
		}
		s.cacheSet(ctx, logger, key, docs)
		return docs, nil
	}

	observability.DataUnavailableTotal.Inc()
	logger.Error("wind data unavailable",
		zap.String("key", key.String()),
		zap.Ints("candidates", candidates),
		zap.Error(lastErr))
	return models.WindDocuments{}, fmt.Errorf("%w: %s after %d candidates: %w", ErrDataUnavailable, key, len(candidates), lastErr)
}

// fetchCandidate fetches and serializes one forecast hour under the per-candidate timeout.
func (s *WindService) fetchCandidate(ctx context.Context, key models.CycleKey, fxx int, target time.Time) (models.WindDocuments, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	start := time.Now()
	docs, err := func() (models.WindDocuments, error) {
		grid, err := s.fetcher.FetchGrid(attemptCtx, key.InitTime, fxx, key.Level)
		if err != nil {
			return models.WindDocuments{}, err
		}
		if !grid.HasComponents() {
			return models.WindDocuments{}, fmt.Errorf("%w: forecast hour %d", models.ErrMissingComponent, fxx)
		}
		return gridjson.Serialize(grid, key.Level, target, key.InitTime)
	}()

	outcome := "success"
	if err != nil {
		outcome = string(client.CategorizeError(err))
	}
	observability.GridFetchAttemptsTotal.WithLabelValues(outcome).Inc()
	observability.GridFetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return docs, err
}

// cacheSet stores docs. Failures are logged and counted but never fail the request.
func (s *WindService) cacheSet(ctx context.Context, logger *zap.Logger, key models.CycleKey, docs models.WindDocuments) {
	setStart := time.Now()
	if err := s.cache.Set(ctx, key, docs); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		logger.Warn("cache set failed", zap.String("key", key.String()), zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
}

// categorizeCacheError returns a stable label for cache error metrics.
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, cache.ErrWrite) {
		return "write"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline") {
		return "timeout"
	}
	if strings.Contains(errStr, "permission") || strings.Contains(errStr, "no such file") {
		return "io"
	}
	if strings.Contains(errStr, "json") || strings.Contains(errStr, "unmarshal") {
		return "corrupt"
	}
	return "unknown"
}

func adjustmentNames(adjs []cycle.Adjustment) []string {
	out := make([]string, len(adjs))
	for i, a := range adjs {
		out[i] = string(a)
	}
	return out
}
