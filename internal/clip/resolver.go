// Package clip reduces gridded datasets to an area of interest, either a
// bounding box or a polygon mask.
package clip

import (
	"fmt"
	"strings"

	"go.ngs.io/cams-clip/internal/domain"
)

// Dimension name synonyms, in preference order. Archive vintages disagree on
// which spelling they use.
var (
	latitudeNames  = []string{"latitude", "lat"}
	longitudeNames = []string{"longitude", "lon"}
)

// Axes names the latitude and longitude dimensions of a dataset.
type Axes struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// ResolveAxes picks the latitude and longitude dimension names of h.
func ResolveAxes(h domain.Header) (Axes, error) {
	lat, latOK := firstDim(h, latitudeNames)
	lon, lonOK := firstDim(h, longitudeNames)
	if latOK && lonOK {
		return Axes{Lat: lat, Lon: lon}, nil
	}

	var missing []string
	if !latOK {
		missing = append(missing, "latitude ("+strings.Join(latitudeNames, ", ")+")")
	}
	if !lonOK {
		missing = append(missing, "longitude ("+strings.Join(longitudeNames, ", ")+")")
	}
	return Axes{}, domain.NewClipErrorWithDetails(domain.CodeDimensionNotFound,
		fmt.Sprintf("no %s dimension in dataset", strings.Join(missing, " or ")),
		nil,
		map[string]any{"dimensions": h.DimNames()})
}

func firstDim(h domain.Header, names []string) (string, bool) {
	for _, name := range names {
		if _, ok := h.Dim(name); ok {
			return name, true
		}
	}
	return "", false
}

// CoordinateValues reads the coordinate variable of a spatial dimension.
func CoordinateValues(src domain.Source, dim string) ([]float64, error) {
	h := src.Header()
	v, ok := h.Var(dim)
	if !ok {
		return nil, domain.NewClipError(domain.CodeDimensionNotFound,
			fmt.Sprintf("dimension %s has no coordinate variable", dim), nil)
	}
	if len(v.Dims) != 1 || v.Dims[0] != dim {
		return nil, domain.NewClipErrorWithDetails(domain.CodeUnsupportedGeometry,
			fmt.Sprintf("coordinate %s is not one-dimensional over %s", dim, dim),
			nil,
			map[string]any{"dims": v.Dims})
	}
	d, _ := h.Dim(dim)
	vals, err := src.Read(dim, []int{0}, []int{d.Len})
	if err != nil {
		return nil, fmt.Errorf("failed to read coordinate %s: %w", dim, err)
	}
	return vals, nil
}
