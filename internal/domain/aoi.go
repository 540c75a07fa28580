package domain

import (
	"fmt"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
)

// AOIKind tags the AOI union.
type AOIKind string

// AOI kinds.
const (
	AOIBoundingBox AOIKind = "bbox"
	AOIPolygon     AOIKind = "polygon"
)

// BoundingBox is an axis-aligned region in degrees. Ordering of the edges
// is the caller's responsibility; a reversed box produces an empty clip.
type BoundingBox struct {
	North float64 `json:"north" toml:"north"`
	South float64 `json:"south" toml:"south"`
	East  float64 `json:"east" toml:"east"`
	West  float64 `json:"west" toml:"west"`
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("N%.4g S%.4g E%.4g W%.4g", b.North, b.South, b.East, b.West)
}

// PolygonRegion references a vector file holding one or more polygons.
// DeclaredCRS, when set, takes precedence over the CRS stored with the file.
type PolygonRegion struct {
	Source      string `json:"source"`
	DeclaredCRS string `json:"crs,omitempty"`
}

// AOI is either a bounding box or a polygon region.
type AOI struct {
	Kind    AOIKind        `json:"kind"`
	Box     *BoundingBox   `json:"bbox,omitempty"`
	Polygon *PolygonRegion `json:"polygon,omitempty"`
}

// BoxAOI wraps a bounding box.
func BoxAOI(b BoundingBox) AOI {
	return AOI{Kind: AOIBoundingBox, Box: &b}
}

// PolygonAOI wraps a polygon region.
func PolygonAOI(source, crs string) AOI {
	return AOI{Kind: AOIPolygon, Polygon: &PolygonRegion{Source: source, DeclaredCRS: crs}}
}

// Check verifies that the tag matches the populated variant.
func (a AOI) Check() error {
	switch a.Kind {
	case AOIBoundingBox:
		if a.Box == nil {
			return NewClipError(CodeInvalidRequest, "bbox AOI without bounding box", nil)
		}
	case AOIPolygon:
		if a.Polygon == nil || a.Polygon.Source == "" {
			return NewClipError(CodeInvalidRequest, "polygon AOI without geometry source", nil)
		}
	default:
		return NewClipError(CodeInvalidRequest, fmt.Sprintf("unknown AOI kind %q", a.Kind), nil)
	}
	return nil
}

// FeatureSet is the content of a vector file: its geometries and the
// spatial reference they are expressed in. SR is nil when the file
// declares none.
type FeatureSet struct {
	Geoms   []geom.Geom
	SR      *proj.SR
	CRSName string
}
