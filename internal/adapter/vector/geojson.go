package vector

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/sirupsen/logrus"

	"go.ngs.io/cams-clip/internal/clip"
	"go.ngs.io/cams-clip/internal/domain"
)

// document covers FeatureCollection, Feature and bare geometry objects.
type document struct {
	Type        string            `json:"type"`
	Features    []document        `json:"features"`
	Geometry    *geojson.Geometry `json:"geometry"`
	Coordinates any               `json:"coordinates"`
	CRS         *namedCRS         `json:"crs"`
}

// namedCRS is the crs member of pre-RFC 7946 GeoJSON.
type namedCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

var epsgPattern = regexp.MustCompile(`(?i)EPSG:+(\d+)$`)

func (l *Loader) loadGeoJSON(path string) (domain.FeatureSet, error) {
	//nolint:gosec // G304: path is supplied by the operator.
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.FeatureSet{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.FeatureSet{}, domain.NewClipError(domain.CodeUnsupportedGeometry,
			fmt.Sprintf("%s is not valid GeoJSON", path), err)
	}

	var raw []*geojson.Geometry
	switch doc.Type {
	case "FeatureCollection":
		for _, f := range doc.Features {
			raw = append(raw, f.Geometry)
		}
	case "Feature":
		raw = append(raw, doc.Geometry)
	default:
		raw = append(raw, &geojson.Geometry{Type: doc.Type, Coordinates: doc.Coordinates})
	}

	fs := domain.FeatureSet{}
	polys := 0
	for i, g := range raw {
		if g == nil {
			l.log.WithFields(logrus.Fields{"feature": i}).Warn("feature has no geometry; skipped")
			continue
		}
		decoded, err := decodeGeometry(g)
		if err != nil {
			return domain.FeatureSet{}, domain.NewClipErrorWithDetails(domain.CodeUnsupportedGeometry,
				fmt.Sprintf("feature %d: %v", i, err), err, map[string]any{"feature": i})
		}
		polys += polygonCount(decoded)
		fs.Geoms = append(fs.Geoms, decoded)
	}

	name := "EPSG:4326"
	if doc.CRS != nil && doc.CRS.Properties.Name != "" {
		name, err = epsgName(doc.CRS.Properties.Name)
		if err != nil {
			return domain.FeatureSet{}, err
		}
	}
	sr, err := clip.ParseCRS(name)
	if err != nil {
		return domain.FeatureSet{}, err
	}
	fs.SR, fs.CRSName = sr, name

	l.log.WithFields(logrus.Fields{
		"path":     path,
		"features": len(fs.Geoms),
		"polygons": polys,
		"crs":      name,
	}).Debug("loaded GeoJSON")
	return fs, nil
}

// decodeGeometry converts a GeoJSON geometry. MultiPolygons are split
// into their polygons, which the GeoJSON decoder handles one at a time.
func decodeGeometry(g *geojson.Geometry) (geom.Geom, error) {
	if g.Type != "MultiPolygon" {
		return geojson.FromGeoJSON(g)
	}
	parts, ok := g.Coordinates.([]any)
	if !ok {
		return nil, geojson.InvalidGeometryError{}
	}
	mp := make(geom.MultiPolygon, 0, len(parts))
	for _, coords := range parts {
		p, err := geojson.FromGeoJSON(&geojson.Geometry{Type: "Polygon", Coordinates: coords})
		if err != nil {
			return nil, err
		}
		mp = append(mp, p.(geom.Polygon))
	}
	return mp, nil
}

// epsgName turns a named CRS ("EPSG:3857", "urn:ogc:def:crs:EPSG::3857",
// "urn:ogc:def:crs:OGC:1.3:CRS84") into an EPSG code.
func epsgName(name string) (string, error) {
	if strings.HasSuffix(strings.ToUpper(name), "CRS84") {
		return "EPSG:4326", nil
	}
	m := epsgPattern.FindStringSubmatch(name)
	if m == nil {
		return "", domain.NewClipError(domain.CodeInvalidRequest, fmt.Sprintf("unsupported GeoJSON crs %q", name), nil)
	}
	return "EPSG:" + m[1], nil
}
