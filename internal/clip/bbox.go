package clip

import (
	"github.com/sirupsen/logrus"

	"go.ngs.io/cams-clip/internal/domain"
)

const emptyBoxMessage = "Clipped NetCDF is empty. Please check your AOI."

// ClipBox restricts src to [south, north] x [west, east].
//
// The latitude bounds are passed in the order of the stored axis: (north,
// south) when latitude descends, (south, north) when it ascends. The
// direction is read from the coordinate values at call time. Longitude is
// always sliced (west, east).
func (c *Clipper) ClipBox(src domain.Source, box domain.BoundingBox) (*domain.Dataset, error) {
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

	latOrder := axisOrder(lats)
	if !isMonotonic(lats) {
		c.log.WithFields(logrus.Fields{"axis": axes.Lat}).Warn("latitude axis is not monotonic; direction taken from its endpoints")
	}
	var latWin window
	if latOrder == Descending {
		latWin = labelWindow(lats, box.North, box.South)
	} else {
		latWin = labelWindow(lats, box.South, box.North)
	}

	west, east := lonBoundsForAxis(lons, box.West, box.East)
	lonWin := labelWindow(lons, west, east)

	log := c.log.WithFields(logrus.Fields{
		"bbox":      box.String(),
		"lat_order": latOrder.String(),
		"lat_cells": latWin.Count,
		"lon_cells": lonWin.Count,
	})
	if latWin.empty() || lonWin.empty() {
		log.Info("bounding box does not intersect the grid")
		return nil, domain.NewClipErrorWithDetails(domain.CodeEmptyClip, emptyBoxMessage, nil,
			map[string]any{"lat_cells": latWin.Count, "lon_cells": lonWin.Count})
	}

	out, err := c.extract(src, axes, latWin, lonWin)
	if err != nil {
		return nil, err
	}
	h := src.Header()
	latInfo, _ := h.Var(axes.Lat)
	lonInfo, _ := h.Var(axes.Lon)
	recordCellBounds(out, axes.Lat, axisEdges(lats, latInfo.Attrs), latWin)
	recordCellBounds(out, axes.Lon, axisEdges(lons, lonInfo.Attrs), lonWin)
	c.stampHistory(out, "bbox "+box.String())
	log.Debug("bounding box clip complete")
	return out, nil
}
