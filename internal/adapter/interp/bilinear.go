// Package interp samples regular latitude/longitude grids between their
// nodes.
package interp

import (
	"fmt"
	"math"
	"sort"
)

// GridCell is one rectangle of a grid with the values at its corners.
type GridCell struct {
	// Corner coordinates.
	X0, X1 float64 // Longitude.
	Y0, Y1 float64 // Latitude.

	// V00 at (X0, Y0), V10 at (X1, Y0), V01 at (X0, Y1), V11 at (X1, Y1).
	V00, V10, V01, V11 float64
}

// BilinearInterpolate evaluates
//
//	f(x,y) ≈ (1-t)(1-u)f(x0,y0) + t(1-u)f(x1,y0) + (1-t)u*f(x0,y1) + tu*f(x1,y1)
//
// with t = (x-x0)/(x1-x0) and u = (y-y0)/(y1-y0). NaN corners are left out
// and the remaining weights renormalized; a cell with no finite corner
// yields NaN.
func BilinearInterpolate(cell GridCell, x, y float64) (float64, error) {
	if cell.X1 <= cell.X0 {
		return 0, fmt.Errorf("invalid grid cell: X1 must be > X0")
	}
	if cell.Y1 <= cell.Y0 {
		return 0, fmt.Errorf("invalid grid cell: Y1 must be > Y0")
	}

	const epsilon = 1e-9
	if x < cell.X0-epsilon || x > cell.X1+epsilon {
		return 0, fmt.Errorf("x coordinate %.6f is outside grid cell [%.6f, %.6f]", x, cell.X0, cell.X1)
	}
	if y < cell.Y0-epsilon || y > cell.Y1+epsilon {
		return 0, fmt.Errorf("y coordinate %.6f is outside grid cell [%.6f, %.6f]", y, cell.Y0, cell.Y1)
	}

	t := math.Max(0, math.Min(1, (x-cell.X0)/(cell.X1-cell.X0)))
	u := math.Max(0, math.Min(1, (y-cell.Y0)/(cell.Y1-cell.Y0)))

	weights := [4]float64{(1 - t) * (1 - u), t * (1 - u), (1 - t) * u, t * u}
	values := [4]float64{cell.V00, cell.V10, cell.V01, cell.V11}
	sum, wsum := 0.0, 0.0
	for i, v := range values {
		if math.IsNaN(v) || weights[i] == 0 {
			continue
		}
		sum += weights[i] * v
		wsum += weights[i]
	}
	if wsum == 0 {
		return math.NaN(), nil
	}
	return sum / wsum, nil
}

// Grid is a latitude/longitude grid with row-major values, latitude
// outermost. Either axis may run in either direction.
type Grid struct {
	Lat    []float64
	Lon    []float64
	Values []float64
}

// Validate checks the grid shape and that both axes are strictly
// monotonic.
func (g *Grid) Validate() error {
	if len(g.Lon) < 2 {
		return fmt.Errorf("grid must have at least 2 longitudes")
	}
	if len(g.Lat) < 2 {
		return fmt.Errorf("grid must have at least 2 latitudes")
	}
	if len(g.Values) != len(g.Lat)*len(g.Lon) {
		return fmt.Errorf("grid has %d values, expected %d", len(g.Values), len(g.Lat)*len(g.Lon))
	}
	if !strictlyMonotonic(g.Lat) {
		return fmt.Errorf("latitudes must be strictly monotonic")
	}
	if !strictlyMonotonic(g.Lon) {
		return fmt.Errorf("longitudes must be strictly monotonic")
	}
	return nil
}

func strictlyMonotonic(v []float64) bool {
	up := v[1] > v[0]
	for i := 1; i < len(v); i++ {
		if (up && v[i] <= v[i-1]) || (!up && v[i] >= v[i-1]) {
			return false
		}
	}
	return true
}

// bracket returns i such that x lies between axis[i] and axis[i+1].
func bracket(axis []float64, x float64) (int, bool) {
	n := len(axis)
	asc := axis[n-1] > axis[0]
	lo, hi := axis[0], axis[n-1]
	if !asc {
		lo, hi = hi, lo
	}
	if x < lo || x > hi {
		return 0, false
	}
	// First node strictly past x in the axis direction.
	k := sort.Search(n, func(i int) bool {
		if asc {
			return axis[i] > x
		}
		return axis[i] < x
	})
	i := k - 1
	if i < 0 {
		i = 0
	}
	if i > n-2 {
		i = n - 2
	}
	return i, true
}

// At interpolates the grid at (lat, lon).
func (g *Grid) At(lat, lon float64) (float64, error) {
	if err := g.Validate(); err != nil {
		return 0, fmt.Errorf("invalid grid: %w", err)
	}
	j, ok := bracket(g.Lon, lon)
	if !ok {
		return 0, fmt.Errorf("longitude %.6f is outside grid range [%.6f, %.6f]", lon, g.Lon[0], g.Lon[len(g.Lon)-1])
	}
	i, ok := bracket(g.Lat, lat)
	if !ok {
		return 0, fmt.Errorf("latitude %.6f is outside grid range [%.6f, %.6f]", lat, g.Lat[0], g.Lat[len(g.Lat)-1])
	}

	nlon := len(g.Lon)
	value := func(r, c int) float64 { return g.Values[r*nlon+c] }

	// Orient the cell so X0 < X1 and Y0 < Y1.
	c0, c1 := j, j+1
	if g.Lon[c1] < g.Lon[c0] {
		c0, c1 = c1, c0
	}
	r0, r1 := i, i+1
	if g.Lat[r1] < g.Lat[r0] {
		r0, r1 = r1, r0
	}
	cell := GridCell{
		X0:  g.Lon[c0],
		X1:  g.Lon[c1],
		Y0:  g.Lat[r0],
		Y1:  g.Lat[r1],
		V00: value(r0, c0),
		V10: value(r0, c1),
		V01: value(r1, c0),
		V11: value(r1, c1),
	}
	return BilinearInterpolate(cell, lon, lat)
}
