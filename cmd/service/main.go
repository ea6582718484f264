package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/wind-field-service/internal/cache"
	"github.com/kjstillabower/wind-field-service/internal/circuitbreaker"
	"github.com/kjstillabower/wind-field-service/internal/client"
	"github.com/kjstillabower/wind-field-service/internal/config"
	"github.com/kjstillabower/wind-field-service/internal/cycle"
	httphandler "github.com/kjstillabower/wind-field-service/internal/http"
	"github.com/kjstillabower/wind-field-service/internal/lifecycle"
	"github.com/kjstillabower/wind-field-service/internal/observability"
	"github.com/kjstillabower/wind-field-service/internal/scheduler"
	"github.com/kjstillabower/wind-field-service/internal/service"
	"github.com/kjstillabower/wind-field-service/internal/traffic"
)

const serviceName = "wind-field-service"

// app is the wired service: HTTP server plus background jobs.
type app struct {
	server    *http.Server
	scheduler *scheduler.Scheduler
}

func main() {
	logger, err := observability.NewLogger(observability.LoggerOptions{Service: serviceName})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if logger, err = observability.NewLogger(observability.LoggerOptions{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: serviceName,
		Version: cfg.Version,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	if err := a.scheduler.Start(); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}

	go func() {
		logger.Info("server starting", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	a.shutdown(cfg, logger)
}

// newApp builds every component from cfg. Nothing is started.
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	gridBreaker := newBreaker(cfg, "gfs_archive", client.CountsAgainstBreaker)
	ebirdBreaker := newBreaker(cfg, "ebird_api", nil)

	gfs, err := client.NewGFSClient(client.GFSOptions{
		BaseURL:        cfg.GFSBaseURL,
		Product:        cfg.GFSProduct,
		Timeout:        cfg.GFSFetchTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		Decoder:        client.Wgrib2Decoder{Path: cfg.Wgrib2Path},
		Breaker:        gridBreaker,
	})
	if err != nil {
		return nil, fmt.Errorf("gfs client: %w", err)
	}

	clock := clockwork.NewRealClock()
	var (
		store    cache.Cache
		pruner   cache.Pruner
		pingFunc func() error
	)
	switch cfg.CacheBackend {
	case "in_memory":
		store = cache.NewInMemoryCache(cfg.CacheMaxAge, clock)
		logger.Info("cache backend: in_memory", zap.Duration("max_age", cfg.CacheMaxAge))
	default:
		fc, err := cache.NewFileCache(cfg.CacheDir, cfg.CacheMaxAge, clock)
		if err != nil {
			return nil, fmt.Errorf("file cache: %w", err)
		}
		store, pruner, pingFunc = fc, fc, fc.Ping
		logger.Info("cache backend: file", zap.String("dir", fc.Dir()), zap.Duration("max_age", cfg.CacheMaxAge))
	}

	windService := service.NewWindService(gfs, store, service.Options{
		Resolver: cycle.Resolver{
			ProcessingDelay: cfg.ProcessingDelay,
			MaxForecastHour: cfg.MaxForecastHour,
			HorizonLookback: cfg.HorizonLookback,
		},
		Clock:           clock,
		FetchTimeout:    cfg.GFSFetchTimeout,
		CoalesceTimeout: cfg.CoalesceTimeout,
		Logger:          logger,
	})

	warmer := cache.NewWarmer(windService, clock, logger, cfg.WarmConcurrency)
	jobs := scheduler.New(warmer, pruner, scheduler.Options{
		WarmLevels:   cfg.WarmLevels,
		WarmInterval: cfg.WarmInterval,
		Retention:    cfg.CacheRetention,
	}, logger)

	ebird := client.NewEBirdClient(cfg.EBirdAPIKey, cfg.EBirdAPIURL, cfg.EBirdTimeout, ebirdBreaker)
	if !ebird.Configured() {
		logger.Warn("EBIRD_API_KEY not set; eBird proxy endpoints will return errors")
	}

	healthConfig := &httphandler.HealthConfig{
		Thresholds: lifecycle.Thresholds{
			OverloadWindow:         cfg.OverloadWindow,
			OverloadThresholdPct:   cfg.OverloadThresholdPct,
			RateLimitRPS:           cfg.RateLimitRPS,
			DegradedWindow:         cfg.DegradedWindow,
			DegradedErrorPct:       cfg.DegradedErrorPct,
			IdleWindow:             cfg.IdleWindow,
			IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
			MinimumLifespan:        cfg.MinimumLifespan,
			StartTime:              time.Now(),
		},
		Version:     cfg.Version,
		CORSOrigins: cfg.CORSOrigins,
		GridBreaker: gridBreaker,
		CachePing:   pingFunc,
	}
	handler := httphandler.NewHandler(windService, ebird, healthConfig, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterRateLimitGauges(traffic.Default(), cfg.OverloadWindow)
	observability.SetTrackedLevels(cfg.TrackedLevels)

	router := httphandler.NewRouter(handler, httphandler.RouterOptions{
		Logger:         logger,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		CORSOrigins:    cfg.CORSOrigins,
	})

	return &app{
		server: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			// Must outlast the grid route deadline.
			WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		},
		scheduler: jobs,
	}, nil
}

// newBreaker builds a circuit breaker whose transitions feed the breaker metrics.
func newBreaker(cfg *config.Config, component string, isFailure func(error) bool) *circuitbreaker.CircuitBreaker {
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        component,
		IsFailure:        isFailure,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String())
			observability.SetCircuitBreakerStateGauge(component, int(to))
		},
	})
	observability.SetCircuitBreakerStateGauge(component, int(circuitbreaker.StateClosed))
	return cb
}

// shutdown drains the server, waits for in-flight requests, stops background jobs and flushes logs.
func (a *app) shutdown(cfg *config.Config, logger *zap.Logger) {
	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.InFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.InFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	a.scheduler.Stop()

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
