package clip

import (
	"math"

	"go.ngs.io/cams-clip/internal/domain"
)

// Order is the direction of a coordinate axis.
type Order int

// Axis directions.
const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "descending"
	}
	return "ascending"
}

// axisOrder infers the direction of an axis from its endpoints. Single
// element and constant axes count as ascending.
func axisOrder(vals []float64) Order {
	if len(vals) > 1 && vals[len(vals)-1] < vals[0] {
		return Descending
	}
	return Ascending
}

// isMonotonic reports whether vals is strictly monotonic.
func isMonotonic(vals []float64) bool {
	if len(vals) < 2 {
		return true
	}
	asc := vals[1] > vals[0]
	for i := 1; i < len(vals); i++ {
		d := vals[i] - vals[i-1]
		if d == 0 || (d > 0) != asc {
			return false
		}
	}
	return true
}

// isRegular reports whether the spacing of vals is constant within a
// relative tolerance.
func isRegular(vals []float64) bool {
	if len(vals) < 3 {
		return true
	}
	step := vals[1] - vals[0]
	tol := math.Abs(step) * 1e-3
	for i := 2; i < len(vals); i++ {
		if math.Abs((vals[i]-vals[i-1])-step) > tol {
			return false
		}
	}
	return true
}

// window is a contiguous index range along one axis.
type window struct {
	Start int
	Count int
}

func (w window) empty() bool { return w.Count == 0 }

// labelWindow selects the inclusive label range (first, second) of an axis.
// Bounds follow the axis direction: on an ascending axis the window holds
// first <= v <= second, on a descending one first >= v >= second. Reversed
// bounds give an empty window. The window spans the first to the last
// matching index, so every kept label lies within the bounds only when the
// axis is monotonic.
func labelWindow(vals []float64, first, second float64) window {
	desc := axisOrder(vals) == Descending
	start, end := -1, -1
	for i, v := range vals {
		var in bool
		if desc {
			in = v <= first && v >= second
		} else {
			in = v >= first && v <= second
		}
		if !in {
			continue
		}
		if start < 0 {
			start = i
		}
		end = i
	}
	if start < 0 {
		return window{}
	}
	return window{Start: start, Count: end - start + 1}
}

// lonAxisRequiresWrap reports whether the longitudes use the 0..360
// convention.
func lonAxisRequiresWrap(lons []float64) bool {
	if len(lons) == 0 {
		return false
	}
	minVal := lons[0]
	maxVal := lons[len(lons)-1]
	if minVal > maxVal {
		minVal, maxVal = maxVal, minVal
	}
	return minVal >= 0 && maxVal > 180
}

func normalizeLon360(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	return lon
}

// lonBoundsForAxis moves west/east onto a 0..360 axis when that keeps the
// pair ordered. Otherwise the bounds are returned unchanged.
func lonBoundsForAxis(lons []float64, west, east float64) (float64, float64) {
	if !lonAxisRequiresWrap(lons) {
		return west, east
	}
	w, e := normalizeLon360(west), normalizeLon360(east)
	if w <= e {
		return w, e
	}
	return west, east
}

// cellBoundsAttr holds the [low, high] edges of the only cell of a
// single-value coordinate axis, so that a clip result can be clipped again.
const cellBoundsAttr = "cell_bounds"

// cellEdges returns the n+1 boundaries of the cells centred on vals. Inner
// edges sit half way between neighbours; outer edges mirror the first and
// last spacing. A single-value axis yields a zero-width cell.
func cellEdges(vals []float64) []float64 {
	n := len(vals)
	edges := make([]float64, n+1)
	if n == 0 {
		return edges
	}
	if n == 1 {
		edges[0], edges[1] = vals[0], vals[0]
		return edges
	}
	for i := 1; i < n; i++ {
		edges[i] = (vals[i-1] + vals[i]) / 2
	}
	edges[0] = vals[0] - (vals[1]-vals[0])/2
	edges[n] = vals[n-1] + (vals[n-1]-vals[n-2])/2
	return edges
}

// span returns the ordered (low, high) pair of cell i.
func span(edges []float64, i int) (float64, float64) {
	a, b := edges[i], edges[i+1]
	if a > b {
		return b, a
	}
	return a, b
}

// axisEdges is cellEdges with the recorded cell_bounds of a single-value
// axis taken into account.
func axisEdges(vals []float64, attrs domain.Attributes) []float64 {
	edges := cellEdges(vals)
	if len(vals) != 1 {
		return edges
	}
	a, ok := attrs.Get(cellBoundsAttr)
	if !ok {
		return edges
	}
	var lo, hi float64
	switch x := a.Value.(type) {
	case []float64:
		if len(x) != 2 {
			return edges
		}
		lo, hi = x[0], x[1]
	case []float32:
		if len(x) != 2 {
			return edges
		}
		lo, hi = float64(x[0]), float64(x[1])
	default:
		return edges
	}
	if math.IsNaN(lo) || math.IsNaN(hi) || lo > vals[0] || hi < vals[0] {
		return edges
	}
	return []float64{lo, hi}
}

// recordCellBounds stores the edges of the kept cell on the coordinate
// variable of dim when the window keeps a single cell of non-zero width.
func recordCellBounds(ds *domain.Dataset, dim string, edges []float64, w window) {
	if w.Count != 1 {
		return
	}
	lo, hi := span(edges, w.Start)
	if hi <= lo {
		return
	}
	if v, ok := ds.Var(dim); ok {
		v.Attrs = v.Attrs.Set(cellBoundsAttr, []float64{lo, hi})
	}
}
