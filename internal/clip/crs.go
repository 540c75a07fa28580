package clip

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
	"github.com/sirupsen/logrus"

	"go.ngs.io/cams-clip/internal/domain"
)

// WGS84 is the reference system of the gridded data.
const WGS84 = "+proj=longlat +datum=WGS84 +no_defs"

const webMercator = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs"

const missingCRSMessage = "Shapefile has no CRS. Please assign a coordinate reference system in QGIS."

// epsgDefs maps the EPSG codes accepted by ParseCRS to proj4 definitions.
var epsgDefs = map[int]string{
	4326:   WGS84,
	4258:   "+proj=longlat +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +no_defs",
	4269:   "+proj=longlat +datum=NAD83 +no_defs",
	3857:   webMercator,
	900913: webMercator,
	2154:   "+proj=lcc +lat_1=49 +lat_2=44 +lat_0=46.5 +lon_0=3 +x_0=700000 +y_0=6600000 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	27700:  "+proj=tmerc +lat_0=49 +lon_0=-2 +k=0.9996012717 +x_0=400000 +y_0=-100000 +ellps=airy +towgs84=446.448,-125.157,542.06,0.15,0.247,0.842,-20.489 +units=m +no_defs",
}

// MissingCRSError is the error returned for features without a reference
// system.
func MissingCRSError() error {
	return domain.NewClipError(domain.CodeMissingCRS, missingCRSMessage, nil)
}

// ParseCRS resolves an EPSG code ("EPSG:3857"), a proj4 string or WKT.
func ParseCRS(code string) (*proj.SR, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.NewClipError(domain.CodeMissingCRS, missingCRSMessage, nil)
	}
	def := code
	if upper := strings.ToUpper(code); strings.HasPrefix(upper, "EPSG:") {
		n, err := strconv.Atoi(strings.TrimSpace(code[len("EPSG:"):]))
		if err != nil {
			return nil, domain.NewClipError(domain.CodeInvalidRequest, fmt.Sprintf("invalid EPSG code %q", code), err)
		}
		d, ok := epsgProj4(n)
		if !ok {
			return nil, domain.NewClipError(domain.CodeInvalidRequest, fmt.Sprintf("unsupported CRS %s", code), nil)
		}
		def = d
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, domain.NewClipError(domain.CodeInvalidRequest, fmt.Sprintf("cannot parse CRS %q", code), err)
	}
	return sr, nil
}

func epsgProj4(code int) (string, bool) {
	if d, ok := epsgDefs[code]; ok {
		return d, true
	}
	switch {
	case code >= 32601 && code <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", code-32600), true
	case code >= 32701 && code <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", code-32700), true
	case code >= 25828 && code <= 25838:
		return fmt.Sprintf("+proj=utm +zone=%d +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs", code-25800), true
	}
	return "", false
}

// Normalizer brings polygon features onto the grid's reference system and
// merges them into one region.
type Normalizer struct {
	log    logrus.FieldLogger
	target *proj.SR
}

// NewNormalizer creates a Normalizer targeting WGS84.
func NewNormalizer(log logrus.FieldLogger) (*Normalizer, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	target, err := proj.Parse(WGS84)
	if err != nil {
		return nil, fmt.Errorf("failed to parse WGS84 definition: %w", err)
	}
	return &Normalizer{log: log, target: target}, nil
}

// Normalize reprojects fs to WGS84 and unions its polygons. Features
// without a reference system fail with MissingCRS.
func (n *Normalizer) Normalize(fs domain.FeatureSet) (geom.Polygonal, error) {
	if fs.SR == nil {
		return nil, domain.NewClipError(domain.CodeMissingCRS, missingCRSMessage, nil)
	}
	transform, err := fs.SR.NewTransform(n.target)
	if err != nil {
		return nil, domain.NewClipError(domain.CodeUnsupportedGeometry,
			fmt.Sprintf("cannot reproject from %s to WGS84", crsLabel(fs)), err)
	}

	var polys []geom.Polygon
	for i, g := range fs.Geoms {
		if g == nil {
			continue
		}
		var parts []geom.Polygon
		switch t := g.(type) {
		case geom.Polygon:
			parts = []geom.Polygon{t}
		case geom.MultiPolygon:
			parts = t
		case geom.Polygonal:
			parts = t.Polygons()
		default:
			return nil, domain.NewClipErrorWithDetails(domain.CodeUnsupportedGeometry,
				fmt.Sprintf("feature %d is a %T, only polygons can be used as a mask", i, g), nil,
				map[string]any{"feature": i})
		}
		for _, p := range parts {
			tg, err := p.Transform(transform)
			if err != nil {
				return nil, domain.NewClipError(domain.CodeUnsupportedGeometry,
					fmt.Sprintf("failed to reproject feature %d from %s", i, crsLabel(fs)), err)
			}
			if clean, ok := n.checkPolygon(i, tg.(geom.Polygon)); ok {
				polys = append(polys, clean)
			}
		}
	}
	if len(polys) == 0 {
		return nil, domain.NewClipError(domain.CodeUnsupportedGeometry, "no usable polygon in geometry source", nil)
	}
	return n.union(polys), nil
}

func crsLabel(fs domain.FeatureSet) string {
	if fs.CRSName != "" {
		return fs.CRSName
	}
	return "source CRS"
}

// checkPolygon drops unusable rings and warns about invalid geometry. A
// polygon whose exterior ring is unusable is dropped.
func (n *Normalizer) checkPolygon(feature int, p geom.Polygon) (geom.Polygon, bool) {
	log := n.log.WithFields(logrus.Fields{"feature": feature})
	var out geom.Polygon
	for r, ring := range p {
		if !finiteRing(ring) {
			log.WithFields(logrus.Fields{"ring": r}).Warn("ring has non-finite coordinates after reprojection; dropped")
			if r == 0 {
				return nil, false
			}
			continue
		}
		if distinctPoints(ring) < 3 {
			log.WithFields(logrus.Fields{"ring": r}).Warn("ring has fewer than three distinct points; dropped")
			if r == 0 {
				return nil, false
			}
			continue
		}
		if !ring[0].Equals(ring[len(ring)-1]) {
			log.WithFields(logrus.Fields{"ring": r}).Warn("ring is not closed")
		}
		if selfIntersects(ring) {
			log.WithFields(logrus.Fields{"ring": r}).Warn("Shapefile geometry is not valid (self-intersection); results may be unexpected")
		}
		out = append(out, ring)
	}
	return out, len(out) > 0
}

// union merges the polygons into one region. When the boolean union loses
// area the parts are kept side by side; masking treats a cell as covered
// when it touches any part, so the covered region is the same.
func (n *Normalizer) union(polys []geom.Polygon) geom.Polygonal {
	if len(polys) == 1 {
		return polys[0]
	}
	acc := polys[0]
	largest := polys[0].Area()
	for _, p := range polys[1:] {
		acc = acc.Union(p)
		largest = math.Max(largest, p.Area())
	}
	if len(acc) == 0 || acc.Area() < largest*(1-1e-9) {
		n.log.WithFields(logrus.Fields{"parts": len(polys)}).Warn("polygon union degenerated; masking with the separate parts")
		return geom.MultiPolygon(polys)
	}
	n.log.WithFields(logrus.Fields{"parts": len(polys), "rings": len(acc)}).Debug("merged polygon features")
	return acc
}

func finiteRing(ring []geom.Point) bool {
	for _, pt := range ring {
		if math.IsNaN(pt.X) || math.IsNaN(pt.Y) || math.IsInf(pt.X, 0) || math.IsInf(pt.Y, 0) {
			return false
		}
	}
	return true
}

func distinctPoints(ring []geom.Point) int {
	seen := make(map[geom.Point]struct{}, len(ring))
	for _, pt := range ring {
		seen[pt] = struct{}{}
	}
	return len(seen)
}

// maxValidityCheck bounds the quadratic self-intersection scan.
const maxValidityCheck = 2000

// selfIntersects reports whether two non-adjacent edges of ring cross.
func selfIntersects(ring []geom.Point) bool {
	pts := ring
	if len(pts) > 1 && pts[0].Equals(pts[len(pts)-1]) {
		pts = pts[:len(pts)-1]
	}
	n := len(pts)
	if n < 4 || n > maxValidityCheck {
		return false
	}
	for i := 0; i < n; i++ {
		a1, a2 := pts[i], pts[(i+1)%n]
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue
			}
			b1, b2 := pts[j], pts[(j+1)%n]
			if segmentsCross(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

func cross(o, a, b geom.Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// segmentsCross reports a proper or touching intersection of p1p2 and q1q2.
func segmentsCross(p1, p2, q1, q2 geom.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	onSegment := func(a, b, p geom.Point) bool {
		return math.Min(a.X, b.X) <= p.X && p.X <= math.Max(a.X, b.X) &&
			math.Min(a.Y, b.Y) <= p.Y && p.Y <= math.Max(a.Y, b.Y)
	}
	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}
