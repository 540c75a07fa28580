package clip

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"go.ngs.io/cams-clip/internal/domain"
)

// Clipper runs the bounding-box and polygon reductions.
type Clipper struct {
	log logrus.FieldLogger
	now func() time.Time
}

// NewClipper creates a Clipper logging to log, or to the standard logger
// when log is nil.
func NewClipper(log logrus.FieldLogger) *Clipper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Clipper{log: log, now: time.Now}
}

// extract reads every supported variable of src restricted to the given
// latitude and longitude windows. Non-spatial dims are kept whole.
func (c *Clipper) extract(src domain.Source, axes Axes, latWin, lonWin window) (*domain.Dataset, error) {
	h := src.Header()
	out := &domain.Dataset{
		Attrs:  h.Attrs.Clone(),
		Format: h.Format,
	}
	for _, d := range h.Dims {
		switch d.Name {
		case axes.Lat:
			d.Len = latWin.Count
		case axes.Lon:
			d.Len = lonWin.Count
		}
		out.Dims = append(out.Dims, d)
	}

	for _, v := range h.Vars {
		if v.Type == domain.Unsupported {
			c.log.WithFields(logrus.Fields{"variable": v.Name}).Warn("skipping variable with unsupported data type")
			continue
		}
		shape, err := h.Shape(v)
		if err != nil {
			return nil, err
		}
		start := make([]int, len(shape))
		count := append([]int(nil), shape...)
		for i, name := range v.Dims {
			switch name {
			case axes.Lat:
				start[i], count[i] = latWin.Start, latWin.Count
			case axes.Lon:
				start[i], count[i] = lonWin.Start, lonWin.Count
			}
		}
		data, err := src.Read(v.Name, start, count)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", v.Name, err)
		}
		info := v
		info.Dims = append([]string(nil), v.Dims...)
		info.Attrs = v.Attrs.Clone()
		out.Vars = append(out.Vars, &domain.Variable{VarInfo: info, Data: data})
	}
	return out, nil
}

// stampHistory prepends a line to the CF history attribute.
func (c *Clipper) stampHistory(ds *domain.Dataset, what string) {
	line := fmt.Sprintf("%s: cams-clip %s", c.now().UTC().Format(time.RFC3339), what)
	if a, ok := ds.Attrs.Get("history"); ok {
		if prev, ok := a.Value.(string); ok && strings.TrimSpace(prev) != "" {
			line += "\n" + prev
		}
	}
	ds.Attrs = ds.Attrs.Set("history", line)
}
