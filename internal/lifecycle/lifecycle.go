package lifecycle

import (
	"net/http"
	"sync/atomic"
	"time"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Health statuses reported by /api/health.
const (
	StatusHealthy      = "healthy"
	StatusIdle         = "idle"
	StatusDegraded     = "degraded"
	StatusOverloaded   = "overloaded"
	StatusShuttingDown = "shutting-down"
)

// Counter is the sliding-window view the evaluation reads.
type Counter interface {
	RequestCount(window time.Duration) int
	ErrorRate(window time.Duration) (errors, total int)
}

// Thresholds configures when the service reports itself overloaded, idle or degraded.
// Zero windows disable the corresponding check.
type Thresholds struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	StartTime              time.Time
}

// Result is a computed health status with its HTTP code and the reason it was chosen.
type Result struct {
	Status     string
	StatusCode int
	Reason     string
}

// Evaluate determines the health status in priority order:
// shutting-down > upstream open > overloaded > idle > degraded > healthy.
// upstreamOpen reports that the grid source circuit breaker is refusing calls.
func Evaluate(t Thresholds, c Counter, upstreamOpen bool, now time.Time) Result {
	if IsShuttingDown() {
		return Result{StatusShuttingDown, http.StatusServiceUnavailable, "signal"}
	}
	if upstreamOpen {
		return Result{StatusDegraded, http.StatusServiceUnavailable, "grid_source_open"}
	}
	if t.OverloadWindow > 0 && t.RateLimitRPS > 0 && t.OverloadThresholdPct > 0 {
		threshold := float64(t.RateLimitRPS) * t.OverloadWindow.Seconds() * float64(t.OverloadThresholdPct) / 100
		if float64(c.RequestCount(t.OverloadWindow)) > threshold {
			return Result{StatusOverloaded, http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if t.IdleWindow > 0 && t.MinimumLifespan > 0 && now.Sub(t.StartTime) >= t.MinimumLifespan {
		if c.RequestCount(t.IdleWindow) < t.IdleThresholdReqPerMin {
			return Result{StatusIdle, http.StatusOK, "low_traffic"}
		}
	}
	if t.DegradedWindow > 0 && t.DegradedErrorPct > 0 {
		errors, total := c.ErrorRate(t.DegradedWindow)
		if total > 0 {
			pct := float64(errors) * 100 / float64(total)
			if pct >= float64(t.DegradedErrorPct) {
				return Result{StatusDegraded, http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return Result{StatusHealthy, http.StatusOK, ""}
}
