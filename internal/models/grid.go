package models

import (
	"errors"
	"fmt"
	"math"
)

// Component names carried in VectorGrid.Fields.
const (
	ComponentU = "u"
	ComponentV = "v"
)

var (
	// ErrGridShape is returned when a grid's field lengths do not match its axes.
	ErrGridShape = errors.New("grid shape mismatch")
	// ErrMissingComponent is returned when a grid lacks the u or v field.
	ErrMissingComponent = errors.New("grid missing wind component")
)

// VectorGrid is a gridded vector field on a regular lat/lon grid. Each field is
// row-major with len(Lats) rows of len(Lons) columns.
type VectorGrid struct {
	Lons   []float64
	Lats   []float64
	Fields map[string][]float64
}

// Nx returns the number of longitude columns.
func (g VectorGrid) Nx() int { return len(g.Lons) }

// Ny returns the number of latitude rows.
func (g VectorGrid) Ny() int { return len(g.Lats) }

// Field returns the named scalar field.
func (g VectorGrid) Field(name string) ([]float64, bool) {
	f, ok := g.Fields[name]
	return f, ok
}

// HasComponents reports whether both wind components are present.
func (g VectorGrid) HasComponents() bool {
	_, u := g.Fields[ComponentU]
	_, v := g.Fields[ComponentV]
	return u && v
}

// Validate checks that every field covers the full grid and there are at least
// two cells along each axis.
func (g VectorGrid) Validate() error {
	if g.Nx() < 2 || g.Ny() < 2 {
		return fmt.Errorf("%w: need at least 2x2 cells, got %dx%d", ErrGridShape, g.Nx(), g.Ny())
	}
	want := g.Nx() * g.Ny()
	for name, f := range g.Fields {
		if len(f) != want {
			return fmt.Errorf("%w: field %s has %d cells, want %d", ErrGridShape, name, len(f), want)
		}
	}
	return nil
}

// NormalizeLongitude wraps longitudes from [0,360) into [-180,180) and rolls
// every row by half the grid width so longitudes stay ascending by index.
func (g *VectorGrid) NormalizeLongitude() {
	nx := g.Nx()
	if nx == 0 {
		return
	}
	for i, lon := range g.Lons {
		g.Lons[i] = wrapLongitude(lon)
	}
	shift := nx / 2
	g.Lons = roll(g.Lons, shift)
	for name, f := range g.Fields {
		rolled := make([]float64, len(f))
		for r := 0; r+nx <= len(f); r += nx {
			copy(rolled[r:r+nx], roll(f[r:r+nx], shift))
		}
		g.Fields[name] = rolled
	}
}

func wrapLongitude(lon float64) float64 {
	m := math.Mod(lon+180, 360)
	if m < 0 {
		m += 360
	}
	return m - 180
}

// roll returns a copy of s with element i moved to (i+shift) mod len(s).
func roll(s []float64, shift int) []float64 {
	n := len(s)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	shift = ((shift % n) + n) % n
	for i, v := range s {
		out[(i+shift)%n] = v
	}
	return out
}
