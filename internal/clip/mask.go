package clip

import (
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/sirupsen/logrus"

	"go.ngs.io/cams-clip/internal/domain"
)

const emptyMaskMessage = "Clipped NetCDF is empty after shapefile mask. Please check your AOI."

// spatialRefVar is the grid-mapping variable tagging the output as WGS84.
const spatialRefVar = "spatial_ref"

const wgs84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AXIS["Latitude",NORTH],AXIS["Longitude",EAST],AUTHORITY["EPSG","4326"]]`

// ClipPolygon keeps the grid cells that region touches (all-touched rule)
// and crops the result to the extent of those cells. Masked cells inside
// the extent are set to the variable's fill value, or NaN.
//
// region must already be in WGS84; see Normalizer.
func (c *Clipper) ClipPolygon(src domain.Source, region geom.Polygonal) (*domain.Dataset, error) {
	if region == nil || len(region.Polygons()) == 0 {
		return nil, domain.NewClipError(domain.CodeUnsupportedGeometry, "empty mask geometry", nil)
	}
	axes, err := ResolveAxes(src.Header())
	if err != nil {
		return nil, err
	}
	lats, err := CoordinateValues(src, axes.Lat)
	if err != nil {
		return nil, err
	}
	lons, err := CoordinateValues(src, axes.Lon)
	if err != nil {
		return nil, err
	}
	c.warnIrregular(axes.Lat, lats)
	c.warnIrregular(axes.Lon, lons)

	h := src.Header()
	latInfo, _ := h.Var(axes.Lat)
	lonInfo, _ := h.Var(axes.Lon)
	latEdges, lonEdges := axisEdges(lats, latInfo.Attrs), axisEdges(lons, lonInfo.Attrs)

	m := newRegionMask(region)
	retained, latWin, lonWin := m.rasterize(latEdges, lonEdges)

	log := c.log.WithFields(logrus.Fields{
		"polygons":  len(region.Polygons()),
		"lat_cells": latWin.Count,
		"lon_cells": lonWin.Count,
	})
	if latWin.empty() || lonWin.empty() {
		log.Info("polygon does not touch any grid cell")
		return nil, domain.NewClipErrorWithDetails(domain.CodeEmptyClip, emptyMaskMessage, nil,
			map[string]any{"lat_cells": latWin.Count, "lon_cells": lonWin.Count})
	}

	out, err := c.extract(src, axes, latWin, lonWin)
	if err != nil {
		return nil, err
	}
	masked := applyMask(out, axes, retained, len(lons), latWin, lonWin)
	recordCellBounds(out, axes.Lat, latEdges, latWin)
	recordCellBounds(out, axes.Lon, lonEdges, lonWin)
	tagWGS84(out, axes)
	c.stampHistory(out, "polygon mask (all touched)")
	log.WithFields(logrus.Fields{"masked_values": masked}).Debug("polygon clip complete")
	return out, nil
}

func (c *Clipper) warnIrregular(axis string, vals []float64) {
	switch {
	case !isMonotonic(vals):
		c.log.WithFields(logrus.Fields{"axis": axis}).Warn("coordinate axis is not monotonic; the mask may be unreliable")
	case !isRegular(vals):
		c.log.WithFields(logrus.Fields{"axis": axis}).Warn("coordinate axis is not regularly spaced; the mask may be unreliable")
	}
}

// regionMask answers whether a cell rectangle touches a polygonal region.
type regionMask struct {
	polys  []geom.Polygon
	bounds *geom.Bounds
	edges  *rtree.Rtree
}

func newRegionMask(region geom.Polygonal) *regionMask {
	m := &regionMask{
		polys:  region.Polygons(),
		bounds: region.Bounds(),
		edges:  rtree.NewTree(25, 50),
	}
	for _, p := range m.polys {
		for _, ring := range p {
			for i := range ring {
				a := ring[i]
				b := ring[(i+1)%len(ring)]
				m.edges.Insert(geom.LineString{a, b})
			}
		}
	}
	return m
}

// rasterize marks touched cells on the full grid, given the cell edges of
// both axes, and returns the index extent of the marked cells.
func (m *regionMask) rasterize(latEdges, lonEdges []float64) ([]bool, window, window) {
	nLat, nLon := len(latEdges)-1, len(lonEdges)-1
	retained := make([]bool, nLat*nLon)

	minI, maxI, minJ, maxJ := nLat, -1, nLon, -1
	for i := 0; i < nLat; i++ {
		y0, y1 := span(latEdges, i)
		if y1 < m.bounds.Min.Y || y0 > m.bounds.Max.Y {
			continue
		}
		for j := 0; j < nLon; j++ {
			x0, x1 := span(lonEdges, j)
			if x1 < m.bounds.Min.X || x0 > m.bounds.Max.X {
				continue
			}
			if !m.touches(&geom.Bounds{Min: geom.Point{X: x0, Y: y0}, Max: geom.Point{X: x1, Y: y1}}) {
				continue
			}
			retained[i*nLon+j] = true
			minI, maxI = min(minI, i), max(maxI, i)
			minJ, maxJ = min(minJ, j), max(maxJ, j)
		}
	}
	if maxI < 0 {
		return retained, window{}, window{}
	}
	return retained, window{Start: minI, Count: maxI - minI + 1}, window{Start: minJ, Count: maxJ - minJ + 1}
}

// touches reports whether the closed cell rectangle intersects the closed
// region: either a region edge reaches into the cell, or the cell lies
// inside the region.
func (m *regionMask) touches(cell *geom.Bounds) bool {
	for _, g := range m.edges.SearchIntersect(cell) {
		seg, ok := g.(geom.LineString)
		if !ok || len(seg) != 2 {
			continue
		}
		if segmentTouchesRect(seg[0], seg[1], cell) {
			return true
		}
	}
	center := geom.Point{X: (cell.Min.X + cell.Max.X) / 2, Y: (cell.Min.Y + cell.Max.Y) / 2}
	for _, p := range m.polys {
		if center.Within(p) != geom.Outside {
			return true
		}
	}
	return false
}

// segmentTouchesRect clips segment ab against r (Liang-Barsky); boundary
// contact counts as touching.
func segmentTouchesRect(a, b geom.Point, r *geom.Bounds) bool {
	t0, t1 := 0.0, 1.0
	dx, dy := b.X-a.X, b.Y-a.Y
	clipEdge := func(p, q float64) bool {
		if p == 0 {
			return q >= 0
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return false
			}
			t0 = math.Max(t0, t)
		} else {
			if t < t0 {
				return false
			}
			t1 = math.Min(t1, t)
		}
		return true
	}
	return clipEdge(-dx, a.X-r.Min.X) &&
		clipEdge(dx, r.Max.X-a.X) &&
		clipEdge(-dy, a.Y-r.Min.Y) &&
		clipEdge(dy, r.Max.Y-a.Y)
}

// applyMask writes the fill value into every cell of every spatial variable
// that the region does not touch. retained is indexed on the full grid.
// Integer variables without a fill value become Float64 so NaN survives.
func applyMask(ds *domain.Dataset, axes Axes, retained []bool, fullLon int, latWin, lonWin window) int {
	h := ds.Header()
	masked := 0
	for _, v := range ds.Vars {
		li, lj := v.DimIndex(axes.Lat), v.DimIndex(axes.Lon)
		if li < 0 || lj < 0 {
			continue
		}
		shape, err := h.Shape(v.VarInfo)
		if err != nil {
			continue
		}
		strides := make([]int, len(shape))
		stride := 1
		for k := len(shape) - 1; k >= 0; k-- {
			strides[k] = stride
			stride *= shape[k]
		}

		fill, hasFill := v.FillValue()
		if !hasFill {
			fill = math.NaN()
			if v.Type.IsInteger() {
				v.Type = domain.Float64
			}
		}
		for k := range v.Data {
			i := (k / strides[li]) % shape[li]
			j := (k / strides[lj]) % shape[lj]
			if retained[(latWin.Start+i)*fullLon+lonWin.Start+j] {
				continue
			}
			v.Data[k] = fill
			masked++
		}
	}
	return masked
}

// tagWGS84 adds the grid-mapping variable and points every spatial
// variable at it.
func tagWGS84(ds *domain.Dataset, axes Axes) {
	attrs := domain.Attributes{
		{Name: "crs_wkt", Value: wgs84WKT},
		{Name: "spatial_ref", Value: wgs84WKT},
		{Name: "grid_mapping_name", Value: "latitude_longitude"},
		{Name: "semi_major_axis", Value: []float64{6378137}},
		{Name: "inverse_flattening", Value: []float64{298.257223563}},
		{Name: "longitude_of_prime_meridian", Value: []float64{0}},
	}
	if v, ok := ds.Var(spatialRefVar); ok {
		v.Attrs = attrs
	} else {
		ds.Vars = append(ds.Vars, &domain.Variable{
			VarInfo: domain.VarInfo{Name: spatialRefVar, Type: domain.Int32, Attrs: attrs},
			Data:    []float64{0},
		})
	}
	for _, v := range ds.Vars {
		if v.HasDim(axes.Lat) && v.HasDim(axes.Lon) {
			v.Attrs = v.Attrs.Set("grid_mapping", spatialRefVar)
		}
	}
}
