package usecase

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	goshp "github.com/jonas-p/go-shp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"go.ngs.io/cams-clip/internal/adapter/store/classic"
	"go.ngs.io/cams-clip/internal/domain"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func axisRange(from, to, step float64) []float64 {
	var out []float64
	if step > 0 {
		for v := from; v <= to+1e-9; v += step {
			out = append(out, v)
		}
	} else {
		for v := from; v >= to-1e-9; v += step {
			out = append(out, v)
		}
	}
	return out
}

// camsDataset is a classic-format European grid at one degree: latitude
// 70 to 30 (descending), longitude -30 to 45 and two time steps. "no2"
// counts up from zero; "o3" is twice "no2" plus one.
func camsDataset() *domain.Dataset {
	lats, lons := axisRange(70, 30, -1), axisRange(-30, 45, 1)
	n := 2 * len(lats) * len(lons)
	no2, o3 := make([]float64, n), make([]float64, n)
	for i := range no2 {
		no2[i] = float64(i)
		o3[i] = 2*float64(i) + 1
	}
	fill := domain.Attributes{{Name: "_FillValue", Value: []float32{-999}}, {Name: "units", Value: "µg m-3"}}
	return &domain.Dataset{
		Dims: []domain.Dim{{Name: "time", Len: 2}, {Name: "latitude", Len: len(lats)}, {Name: "longitude", Len: len(lons)}},
		Vars: []*domain.Variable{
			{VarInfo: domain.VarInfo{Name: "time", Dims: []string{"time"}, Type: domain.Float64,
				Attrs: domain.Attributes{{Name: "units", Value: "hours since 2021-03-01 00:00:00"}}}, Data: []float64{0, 1}},
			{VarInfo: domain.VarInfo{Name: "latitude", Dims: []string{"latitude"}, Type: domain.Float32}, Data: lats},
			{VarInfo: domain.VarInfo{Name: "longitude", Dims: []string{"longitude"}, Type: domain.Float32}, Data: lons},
			{VarInfo: domain.VarInfo{Name: "no2", Dims: []string{"time", "latitude", "longitude"}, Type: domain.Float32, Attrs: fill.Clone()}, Data: no2},
			{VarInfo: domain.VarInfo{Name: "o3", Dims: []string{"time", "latitude", "longitude"}, Type: domain.Float32, Attrs: fill.Clone()}, Data: o3},
		},
		Attrs:  domain.Attributes{{Name: "Conventions", Value: "CF-1.6"}},
		Format: domain.FormatClassic,
	}
}

func writeDataset(t *testing.T, path string, ds *domain.Dataset) string {
	t.Helper()
	require.NoError(t, classic.New().Write(path, ds))
	return path
}

func writeCAMS(t *testing.T) string {
	t.Helper()
	return writeDataset(t, filepath.Join(t.TempDir(), "cams_no2.nc"), camsDataset())
}

func square(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{{X: x0, Y: y0}, {X: x0, Y: y1}, {X: x1, Y: y1}, {X: x1, Y: y0}, {X: x0, Y: y0}}}
}

// writeShapefile writes polys to dir/name.shp with prj, if any, beside it.
func writeShapefile(t *testing.T, dir, name, prj string, polys ...geom.Polygon) string {
	t.Helper()
	path := filepath.Join(dir, name+".shp")
	e, err := shp.NewEncoderFromFields(path, goshp.POLYGON, goshp.StringField("name", 20))
	require.NoError(t, err)
	for _, p := range polys {
		require.NoError(t, e.EncodeFields(p, name))
	}
	e.Close()
	if prj != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".prj"), []byte(prj), 0o600))
	}
	return path
}

func cellAt(t *testing.T, ds *domain.Dataset, variable string, ti int, lat, lon float64) float64 {
	t.Helper()
	lats, ok := ds.Var("latitude")
	require.True(t, ok)
	lons, ok := ds.Var("longitude")
	require.True(t, ok)
	i, j := -1, -1
	for k, v := range lats.Data {
		if v == lat {
			i = k
		}
	}
	for k, v := range lons.Data {
		if v == lon {
			j = k
		}
	}
	require.True(t, i >= 0 && j >= 0, "cell (%v, %v) not in result", lat, lon)
	v, ok := ds.Var(variable)
	require.True(t, ok)
	return v.Data[(ti*len(lats.Data)+i)*len(lons.Data)+j]
}
