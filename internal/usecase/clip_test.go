package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/cams-clip/internal/adapter/store/classic"
	"go.ngs.io/cams-clip/internal/adapter/vector"
	"go.ngs.io/cams-clip/internal/clip"
	"go.ngs.io/cams-clip/internal/domain"
)

func newClipUseCase(t *testing.T, workers int) *ClipUseCase {
	t.Helper()
	backend := classic.New()
	uc, err := NewClipUseCase(backend, backend, vector.NewLoader(quietLogger()), workers, quietLogger())
	require.NoError(t, err)
	return uc
}

// load reads every variable of a classic file into memory.
func load(t *testing.T, path string) *domain.Dataset {
	t.Helper()
	src, err := classic.New().Open(path)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	h := src.Header()
	ds := &domain.Dataset{Dims: h.Dims, Attrs: h.Attrs, Format: h.Format}
	for _, info := range h.Vars {
		shape, err := h.Shape(info)
		require.NoError(t, err)
		data, err := src.Read(info.Name, make([]int, len(shape)), shape)
		require.NoError(t, err)
		ds.Vars = append(ds.Vars, &domain.Variable{VarInfo: info, Data: data})
	}
	return ds
}

func assertNoFile(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "%s should not exist", path)
	entries, err := os.ReadDir(filepath.Dir(path))
	if err == nil {
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp", "temporary file left behind")
		}
	}
}

func TestClipRequest_Validate(t *testing.T) {
	box := domain.BoxAOI(domain.BoundingBox{North: 50, South: 40, East: 10, West: 0})
	tests := []struct {
		name string
		req  ClipRequest
	}{
		{"missing source", ClipRequest{Destination: "out.nc", AOI: box}},
		{"missing destination", ClipRequest{Source: "in.nc", AOI: box}},
		{"destination is source", ClipRequest{Source: "data/in.nc", Destination: "data/./in.nc", AOI: box}},
		{"box without bounds", ClipRequest{Source: "in.nc", Destination: "out.nc", AOI: domain.AOI{Kind: domain.AOIBoundingBox}}},
		{"unknown kind", ClipRequest{Source: "in.nc", Destination: "out.nc", AOI: domain.AOI{Kind: "circle"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
		})
	}
}

// Descending latitude grid, box over western Europe.
func TestClipUseCase_BoundingBox(t *testing.T) {
	src := writeCAMS(t)
	dest := filepath.Join(t.TempDir(), "out", "clip.nc")

	resp, err := newClipUseCase(t, 1).Execute(context.Background(), ClipRequest{
		Source:      src,
		Destination: dest,
		AOI:         domain.BoxAOI(domain.BoundingBox{North: 50, South: 40, East: 10, West: 0}),
	})
	require.NoError(t, err)
	assert.Equal(t, dest, resp.Output)
	assert.Equal(t, "classic", resp.Format)
	assert.Equal(t, AxisExtent{Name: "latitude", Count: 11, First: 50, Last: 40}, resp.Latitude)
	assert.Equal(t, AxisExtent{Name: "longitude", Count: 11, First: 0, Last: 10}, resp.Longitude)
	assert.Equal(t, []string{"no2", "o3"}, resp.Variables)

	out := load(t, dest)
	lats, _ := out.Var("latitude")
	for _, v := range lats.Data {
		assert.True(t, v >= 40 && v <= 50, "latitude %v outside box", v)
	}
	lons, _ := out.Var("longitude")
	for _, v := range lons.Data {
		assert.True(t, v >= 0 && v <= 10, "longitude %v outside box", v)
	}
	assert.Equal(t, cellAt(t, camsDataset(), "no2", 1, 45, 5), cellAt(t, out, "no2", 1, 45, 5))
	assert.Equal(t, 2, out.DimLen("time"))
}

func TestClipUseCase_InvertedBox(t *testing.T) {
	src := writeCAMS(t)
	dest := filepath.Join(t.TempDir(), "clip.nc")

	_, err := newClipUseCase(t, 1).Execute(context.Background(), ClipRequest{
		Source:      src,
		Destination: dest,
		AOI:         domain.BoxAOI(domain.BoundingBox{North: 10, South: 20, East: 5, West: 0}),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmptyClip))
	assertNoFile(t, dest)
}

func TestClipUseCase_PolygonOutsideCoverage(t *testing.T) {
	src := writeCAMS(t)
	dir := t.TempDir()
	aoi := writeShapefile(t, dir, "atlantic", clip.WGS84, square(-60.5, 20.5, -50.5, 28.5))
	dest := filepath.Join(dir, "clip.nc")

	_, err := newClipUseCase(t, 1).Execute(context.Background(), ClipRequest{
		Source:      src,
		Destination: dest,
		AOI:         domain.PolygonAOI(aoi, ""),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmptyClip))
	assertNoFile(t, dest)
}

func TestClipUseCase_ProjectedPolygonMatchesGeographic(t *testing.T) {
	src := writeCAMS(t)
	dir := t.TempDir()
	tri := geom.Polygon{{{X: 0.2, Y: 40.2}, {X: 7.1, Y: 40.2}, {X: 0.2, Y: 47.1}, {X: 0.2, Y: 40.2}}}

	wgs, err := clip.ParseCRS("EPSG:4326")
	require.NoError(t, err)
	merc, err := clip.ParseCRS("EPSG:3857")
	require.NoError(t, err)
	toMerc, err := wgs.NewTransform(merc)
	require.NoError(t, err)
	projected, err := tri.Transform(toMerc)
	require.NoError(t, err)

	geoShp := writeShapefile(t, dir, "geographic", clip.WGS84, tri)
	mercShp := writeShapefile(t, dir, "mercator",
		"+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs",
		projected.(geom.Polygon))

	uc := newClipUseCase(t, 1)
	a, err := uc.Execute(context.Background(), ClipRequest{Source: src, Destination: filepath.Join(dir, "a.nc"), AOI: domain.PolygonAOI(geoShp, "")})
	require.NoError(t, err)
	b, err := uc.Execute(context.Background(), ClipRequest{Source: src, Destination: filepath.Join(dir, "b.nc"), AOI: domain.PolygonAOI(mercShp, "")})
	require.NoError(t, err)

	assert.Equal(t, a.Latitude, b.Latitude)
	assert.Equal(t, a.Longitude, b.Longitude)
	da, db := load(t, a.Output), load(t, b.Output)
	va, _ := da.Var("no2")
	vb, _ := db.Var("no2")
	assert.Equal(t, va.Data, vb.Data)

	// Masked cells carry the fill value; touched cells keep their data.
	assert.Equal(t, -999.0, cellAt(t, da, "no2", 0, 47, 7))
	assert.NotEqual(t, -999.0, cellAt(t, da, "no2", 0, 40, 0))
	_, ok := da.Var("spatial_ref")
	assert.True(t, ok)
}

func TestClipUseCase_ReclipSingleRow(t *testing.T) {
	src := writeCAMS(t)
	dir := t.TempDir()
	strip := writeShapefile(t, dir, "strip", clip.WGS84, square(0.2, 44.6, 7.1, 44.8))
	uc := newClipUseCase(t, 1)

	once, err := uc.Execute(context.Background(), ClipRequest{Source: src, Destination: filepath.Join(dir, "once.nc"), AOI: domain.PolygonAOI(strip, "")})
	require.NoError(t, err)
	assert.Equal(t, 1, once.Latitude.Count)
	assert.Equal(t, 8, once.Longitude.Count)

	twice, err := uc.Execute(context.Background(), ClipRequest{Source: once.Output, Destination: filepath.Join(dir, "twice.nc"), AOI: domain.PolygonAOI(strip, "")})
	require.NoError(t, err)
	assert.Equal(t, once.Latitude, twice.Latitude)
	assert.Equal(t, once.Longitude, twice.Longitude)

	a, _ := load(t, once.Output).Var("no2")
	b, _ := load(t, twice.Output).Var("no2")
	assert.Equal(t, a.Data, b.Data)
}

func TestClipUseCase_PolygonWithoutCRS(t *testing.T) {
	src := writeCAMS(t)
	dir := t.TempDir()
	aoi := writeShapefile(t, dir, "bare", "", square(2.6, 42.6, 6.4, 46.4))
	uc := newClipUseCase(t, 1)

	dest := filepath.Join(dir, "clip.nc")
	_, err := uc.Execute(context.Background(), ClipRequest{Source: src, Destination: dest, AOI: domain.PolygonAOI(aoi, "")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMissingCRS))
	assertNoFile(t, dest)

	// A declared CRS stands in for the missing one.
	resp, err := uc.Execute(context.Background(), ClipRequest{Source: src, Destination: dest, AOI: domain.PolygonAOI(aoi, "EPSG:4326")})
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Latitude.Count)
	assert.Equal(t, 4, resp.Longitude.Count)
}

func TestClipUseCase_UndecodableShapefileWithoutCRS(t *testing.T) {
	src := writeCAMS(t)
	dir := t.TempDir()
	aoi := filepath.Join(dir, "broken.shp")
	require.NoError(t, os.WriteFile(aoi, []byte("not a shapefile"), 0o600))
	dest := filepath.Join(dir, "clip.nc")

	_, err := newClipUseCase(t, 1).Execute(context.Background(), ClipRequest{Source: src, Destination: dest, AOI: domain.PolygonAOI(aoi, "")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMissingCRS))
	assertNoFile(t, dest)
}

func TestClipUseCase_MissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := newClipUseCase(t, 1).Execute(context.Background(), ClipRequest{
		Source:      filepath.Join(dir, "absent.nc"),
		Destination: filepath.Join(dir, "clip.nc"),
		AOI:         domain.BoxAOI(domain.BoundingBox{North: 50, South: 40, East: 10, West: 0}),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
}

func TestClipUseCase_Cancelled(t *testing.T) {
	src := writeCAMS(t)
	dest := filepath.Join(t.TempDir(), "clip.nc")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newClipUseCase(t, 1).Execute(ctx, ClipRequest{
		Source:      src,
		Destination: dest,
		AOI:         domain.BoxAOI(domain.BoundingBox{North: 50, South: 40, East: 10, West: 0}),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assertNoFile(t, dest)
}

func TestClipUseCase_ExecuteBatch(t *testing.T) {
	src := writeCAMS(t)
	dir := t.TempDir()
	reqs := []ClipRequest{
		{Source: src, Destination: filepath.Join(dir, "west.nc"), AOI: domain.BoxAOI(domain.BoundingBox{North: 50, South: 40, East: 0, West: -10})},
		{Source: src, Destination: filepath.Join(dir, "east.nc"), AOI: domain.BoxAOI(domain.BoundingBox{North: 50, South: 40, East: 20, West: 10})},
		{Source: src, Destination: filepath.Join(dir, "north.nc"), AOI: domain.BoxAOI(domain.BoundingBox{North: 70, South: 60, East: 10, West: 0})},
	}

	outcomes, err := newClipUseCase(t, 2).ExecuteBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, BatchOK, o.Status)
		require.NotNil(t, o.Result)
		assert.FileExists(t, reqs[i].Destination)
	}
	assert.Equal(t, 11, outcomes[2].Result.Latitude.Count)
}

func TestClipUseCase_ExecuteBatchStopsOnFailure(t *testing.T) {
	src := writeCAMS(t)
	dir := t.TempDir()
	reqs := []ClipRequest{
		{Source: src, Destination: filepath.Join(dir, "inverted.nc"), AOI: domain.BoxAOI(domain.BoundingBox{North: 10, South: 20, East: 5, West: 0})},
		{Source: src, Destination: filepath.Join(dir, "later.nc"), AOI: domain.BoxAOI(domain.BoundingBox{North: 50, South: 40, East: 10, West: 0})},
	}

	outcomes, err := newClipUseCase(t, 1).ExecuteBatch(context.Background(), reqs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmptyClip))
	require.Len(t, outcomes, 2)
	assert.Equal(t, BatchFailed, outcomes[0].Status)
	assert.Equal(t, domain.CodeEmptyClip, outcomes[0].Code)
	assert.Equal(t, BatchSkipped, outcomes[1].Status)
	assertNoFile(t, reqs[0].Destination)
	assertNoFile(t, reqs[1].Destination)
}

func TestClipUseCase_ExecuteBatchDuplicateDestination(t *testing.T) {
	dir := t.TempDir()
	box := domain.BoxAOI(domain.BoundingBox{North: 50, South: 40, East: 10, West: 0})
	reqs := []ClipRequest{
		{Source: "a.nc", Destination: filepath.Join(dir, "out.nc"), AOI: box},
		{Source: "b.nc", Destination: filepath.Join(dir, ".", "out.nc"), AOI: box},
	}

	outcomes, err := newClipUseCase(t, 1).ExecuteBatch(context.Background(), reqs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
	assert.Nil(t, outcomes)
}
