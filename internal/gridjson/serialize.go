// Package gridjson converts decoded wind grids into the header+data documents
// consumed by map clients.
package gridjson

import (
	"fmt"
	"math"
	"time"

	"github.com/kjstillabower/wind-field-service/internal/models"
)

// ErrMissingComponent is returned when a grid lacks the u or v field.
var ErrMissingComponent = models.ErrMissingComponent

const refTimeLayout = "2006-01-02 15:04:05 UTC"

type component struct {
	field  string
	number int
	name   string
}

var components = [2]component{
	{models.ComponentU, 2, "U-component_of_wind"},
	{models.ComponentV, 3, "V-component_of_wind"},
}

// Serialize builds the [u, v] documents for grid. forecastTime in the headers is
// the whole hours from initTime to targetTime, independent of the forecast hour
// that was fetched.
func Serialize(grid models.VectorGrid, level int, targetTime, initTime time.Time) (models.WindDocuments, error) {
	var docs models.WindDocuments
	if !grid.HasComponents() {
		return docs, ErrMissingComponent
	}
	if err := grid.Validate(); err != nil {
		return docs, fmt.Errorf("serialize: %w", err)
	}

	base := baseHeader(grid, level, targetTime, initTime)
	for i, c := range components {
		h := base
		h.ParameterNumber = c.number
		h.ParameterNumberName = c.name
		field, _ := grid.Field(c.field)
		docs[i] = models.GridDocument{Header: h, Data: sanitize(field)}
	}
	return docs, nil
}

// ForecastTime returns floor((target - init) in hours).
func ForecastTime(targetTime, initTime time.Time) int {
	return int(math.Floor(targetTime.Sub(initTime).Hours()))
}

func baseHeader(grid models.VectorGrid, level int, targetTime, initTime time.Time) models.GridHeader {
	loMin, loMax := minMax(grid.Lons)
	laMin, laMax := minMax(grid.Lats)
	return models.GridHeader{
		Discipline:            0,
		DisciplineName:        "Meteorological products",
		ParameterCategory:     2,
		ParameterCategoryName: "Momentum",
		ParameterUnit:         "m.s-1",
		ForecastTime:          ForecastTime(targetTime, initTime),
		RefTime:               initTime.UTC().Format(refTimeLayout),
		Surface1Type:          100,
		Surface1TypeName:      "Isobaric surface",
		Surface1Value:         level,
		GridDefinition:        "Latitude_Longitude",
		Nx:                    grid.Nx(),
		Ny:                    grid.Ny(),
		Lo1:                   loMin,
		La1:                   laMax,
		Lo2:                   loMax,
		La2:                   laMin,
		Dx:                    grid.Lons[1] - grid.Lons[0],
		Dy:                    grid.Lats[0] - grid.Lats[1], // positive for north-first rows
		Unit:                  "m/s",
	}
}

// sanitize copies field, replacing infinities with NaN so every non-finite
// cell encodes as null.
func sanitize(field []float64) models.Cells {
	out := make(models.Cells, len(field))
	for i, v := range field {
		if math.IsInf(v, 0) {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}

func minMax(s []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range s {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}
