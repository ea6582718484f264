package models

import (
	"fmt"
	"time"
)

// DefaultLevel is the pressure level (hPa) used when a request omits one.
const DefaultLevel = 850

// TargetRequest is a single wind-field lookup. Latitude and Longitude are carried
// through for logging and response metadata only; the grid is always global.
type TargetRequest struct {
	TargetTime time.Time
	Level      int
	Latitude   float64
	Longitude  float64
}

// ModelCycle identifies one forecast grid of one model run.
type ModelCycle struct {
	InitTime     time.Time
	ForecastHour int
}

// ValidTime is the instant the forecast grid represents.
func (c ModelCycle) ValidTime() time.Time {
	return c.InitTime.Add(time.Duration(c.ForecastHour) * time.Hour)
}

func (c ModelCycle) String() string {
	return fmt.Sprintf("%sZ+f%03d", c.InitTime.UTC().Format("2006010215"), c.ForecastHour)
}

// CycleKey is the cache key: a model cycle at a pressure level.
type CycleKey struct {
	InitTime     time.Time
	ForecastHour int
	Level        int
}

// NewCycleKey returns the cache key for cycle at level.
func NewCycleKey(cycle ModelCycle, level int) CycleKey {
	return CycleKey{InitTime: cycle.InitTime.UTC(), ForecastHour: cycle.ForecastHour, Level: level}
}

// String returns the stable identifier for the key. The forecast hour segment is
// omitted for analysis grids (forecast hour 0).
func (k CycleKey) String() string {
	init := k.InitTime.UTC().Format("2006010215")
	if k.ForecastHour > 0 {
		return fmt.Sprintf("%s_f%03d_%dmb", init, k.ForecastHour, k.Level)
	}
	return fmt.Sprintf("%s_%dmb", init, k.Level)
}

// FileName is the on-disk name of the cached document pair for the key.
func (k CycleKey) FileName() string {
	return "gfs_velocity_" + k.String() + ".json"
}
