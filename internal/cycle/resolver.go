// Package cycle maps a requested instant onto the GFS model run and forecast
// hour expected to have published data for it.
package cycle

import (
	"time"

	"github.com/kjstillabower/wind-field-service/internal/models"
)

// Defaults for the GFS operational cadence.
const (
	DefaultProcessingDelay = 4 * time.Hour
	DefaultMaxForecastHour = 120
	DefaultHorizonLookback = 72 * time.Hour

	cycleInterval = 6 * time.Hour
)

// initHours are the UTC hours at which GFS runs are initialized, ascending.
var initHours = []int{0, 6, 12, 18}

// Adjustment names a correction applied while resolving a target. Used as a metric label.
type Adjustment string

const (
	AdjustFutureTarget   Adjustment = "future_target"
	AdjustLatencyClamp   Adjustment = "latency_clamp"
	AdjustUnpublished    Adjustment = "unpublished_cycle"
	AdjustHorizonStepped Adjustment = "horizon_cap"
)

// Resolver holds the cadence parameters. The zero value is not usable; use NewResolver.
type Resolver struct {
	ProcessingDelay time.Duration
	MaxForecastHour int
	HorizonLookback time.Duration
}

// NewResolver returns a Resolver with the operational GFS defaults.
func NewResolver() Resolver {
	return Resolver{
		ProcessingDelay: DefaultProcessingDelay,
		MaxForecastHour: DefaultMaxForecastHour,
		HorizonLookback: DefaultHorizonLookback,
	}
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Cycle models.ModelCycle
	// EffectiveTarget is the target after the future and latency clamps.
	EffectiveTarget time.Time
	Adjustments     []Adjustment
}

// Adjusted reports whether any correction was applied.
func (r Resolution) Adjusted() bool { return len(r.Adjustments) > 0 }

// Resolve picks the model cycle for target given the current time. It never fails;
// callers are responsible for producing a valid instant.
func (r Resolver) Resolve(target, now time.Time) Resolution {
	target = target.UTC()
	now = now.UTC()
	var adj []Adjustment

	if target.After(now) {
		target = now
		adj = append(adj, AdjustFutureTarget)
	}
	if latest := now.Add(-r.ProcessingDelay); target.After(latest) {
		target = latest
		adj = append(adj, AdjustLatencyClamp)
	}

	c := floorCycle(target)

	// Single step back only; not iterated.
	if c.InitTime.Add(r.ProcessingDelay).After(now) {
		c = previousCycle(c)
		adj = append(adj, AdjustUnpublished)
	}

	if c.ForecastHour > r.MaxForecastHour {
		floor := target.Add(-r.HorizonLookback)
		stepped := false
		for c.ForecastHour > r.MaxForecastHour && c.InitTime.After(floor) {
			c = previousCycle(c)
			stepped = true
		}
		if stepped {
			adj = append(adj, AdjustHorizonStepped)
		}
	}

	return Resolution{Cycle: c, EffectiveTarget: target, Adjustments: adj}
}

// floorCycle returns the latest initialization at or before target's hour.
// Targets before the first init hour of the day use the previous day's 18Z run.
func floorCycle(target time.Time) models.ModelCycle {
	hour := target.Hour()
	day := time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, time.UTC)

	initHour := -1
	for _, h := range initHours {
		if h <= hour {
			initHour = h
		}
	}
	if initHour < 0 {
		return models.ModelCycle{
			InitTime:     day.AddDate(0, 0, -1).Add(18 * time.Hour),
			ForecastHour: hour + 6,
		}
	}
	return models.ModelCycle{
		InitTime:     day.Add(time.Duration(initHour) * time.Hour),
		ForecastHour: hour - initHour,
	}
}

// previousCycle moves to the run one interval earlier while keeping the valid time.
func previousCycle(c models.ModelCycle) models.ModelCycle {
	return models.ModelCycle{
		InitTime:     c.InitTime.Add(-cycleInterval),
		ForecastHour: c.ForecastHour + int(cycleInterval/time.Hour),
	}
}
