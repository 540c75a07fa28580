// Package vector loads polygon features from ESRI shapefiles and GeoJSON
// documents.
package vector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
	"github.com/sirupsen/logrus"

	"go.ngs.io/cams-clip/internal/domain"
)

// Loader reads vector files into feature sets.
type Loader struct {
	log logrus.FieldLogger
}

// NewLoader creates a Loader.
func NewLoader(log logrus.FieldLogger) *Loader {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Loader{log: log}
}

// Load reads every feature of path. The format is chosen by extension:
// .shp for shapefiles (CRS from the sibling .prj), .geojson or .json for
// GeoJSON (WGS84 unless a legacy crs member says otherwise).
func (l *Loader) Load(path string) (domain.FeatureSet, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return l.loadShapefile(path)
	case ".geojson", ".json":
		return l.loadGeoJSON(path)
	}
	return domain.FeatureSet{}, domain.NewClipErrorWithDetails(domain.CodeUnsupportedGeometry,
		fmt.Sprintf("unsupported geometry file %s; expected .shp, .geojson or .json", filepath.Base(path)), nil,
		map[string]any{"path": path})
}

// HasCRS reports whether path carries its own reference system without
// decoding any geometry: a shapefile needs a sibling .prj, GeoJSON always
// has one (WGS84 by default).
func (l *Loader) HasCRS(path string) (bool, error) {
	if !strings.EqualFold(filepath.Ext(path), ".shp") {
		return true, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, domain.NewClipErrorWithDetails(domain.CodeInvalidRequest,
			fmt.Sprintf("geometry file %s not found", filepath.Base(path)), err,
			map[string]any{"path": path})
	}
	_, err := os.Stat(prjPath(path))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check projection of %s: %w", path, err)
	}
}

func prjPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
}

func (l *Loader) loadShapefile(path string) (domain.FeatureSet, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return domain.FeatureSet{}, fmt.Errorf("failed to open shapefile %s: %w", path, err)
	}
	defer d.Close()

	var fs domain.FeatureSet
	for {
		g, _, more := d.DecodeRowFields()
		if d.Error() != nil || !more {
			break
		}
		fs.Geoms = append(fs.Geoms, g)
	}
	if err := d.Error(); err != nil {
		return domain.FeatureSet{}, fmt.Errorf("failed to decode shapefile %s: %w", path, err)
	}

	fields := make([]string, 0, len(d.Fields()))
	for _, f := range d.Fields() {
		fields = append(fields, f.String())
	}

	prj := prjPath(path)
	//nolint:gosec // G304: sibling of the operator-supplied shapefile.
	b, err := os.ReadFile(prj)
	switch {
	case errors.Is(err, os.ErrNotExist):
		l.log.WithFields(logrus.Fields{"path": path}).Warn("shapefile has no .prj file")
	case err != nil:
		return domain.FeatureSet{}, fmt.Errorf("failed to read %s: %w", prj, err)
	default:
		def := strings.TrimSpace(string(b))
		sr, err := proj.Parse(def)
		if err != nil {
			return domain.FeatureSet{}, domain.NewClipErrorWithDetails(domain.CodeInvalidRequest,
				fmt.Sprintf("cannot parse coordinate reference system in %s", filepath.Base(prj)), err,
				map[string]any{"prj": prj})
		}
		fs.SR = sr
		fs.CRSName = crsName(def)
	}

	l.log.WithFields(logrus.Fields{
		"path":     path,
		"features": len(fs.Geoms),
		"fields":   fields,
		"crs":      fs.CRSName,
	}).Debug("loaded shapefile")
	return fs, nil
}

// crsName extracts a short label from a WKT or proj4 definition.
func crsName(def string) string {
	if i := strings.IndexByte(def, '"'); i >= 0 {
		if j := strings.IndexByte(def[i+1:], '"'); j >= 0 {
			return def[i+1 : i+1+j]
		}
	}
	if len(def) > 64 {
		return def[:64]
	}
	return def
}

// polygonCount reports how many polygons g holds; zero for other kinds.
func polygonCount(g geom.Geom) int {
	if p, ok := g.(geom.Polygonal); ok {
		return len(p.Polygons())
	}
	return 0
}
