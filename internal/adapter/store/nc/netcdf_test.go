package nc

import (
	"path/filepath"
	"testing"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/cams-clip/internal/domain"
)

// createReanalysisTestFile writes a small CAMS-like NetCDF-4 file with a
// descending latitude axis and a packed short variable.
func createReanalysisTestFile(t *testing.T, path string) {
	t.Helper()
	f, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		t.Fatalf("create nc: %v", err)
	}
	defer func() { _ = f.Close() }()

	timeDim, _ := f.AddDim("time", 2)
	latDim, _ := f.AddDim("latitude", 3)
	lonDim, _ := f.AddDim("longitude", 4)
	vtime, _ := f.AddVar("time", netcdf.DOUBLE, []netcdf.Dim{timeDim})
	vlat, _ := f.AddVar("latitude", netcdf.FLOAT, []netcdf.Dim{latDim})
	vlon, _ := f.AddVar("longitude", netcdf.FLOAT, []netcdf.Dim{lonDim})
	vno2, _ := f.AddVar("no2_conc", netcdf.SHORT, []netcdf.Dim{timeDim, latDim, lonDim})

	if err := f.Attr("Conventions").WriteBytes([]byte("CF-1.6")); err != nil {
		t.Fatalf("write conventions: %v", err)
	}
	if err := vno2.Attr("scale_factor").WriteFloat64s([]float64{0.01}); err != nil {
		t.Fatalf("write scale_factor: %v", err)
	}
	if err := vno2.Attr("_FillValue").WriteInt16s([]int16{-32767}); err != nil {
		t.Fatalf("write fill: %v", err)
	}
	if err := vno2.Attr("units").WriteBytes([]byte("µg m-3")); err != nil {
		t.Fatalf("write units: %v", err)
	}

	if err := f.EndDef(); err != nil {
		t.Fatalf("enddef: %v", err)
	}
	if err := vtime.WriteFloat64s([]float64{0, 3}); err != nil {
		t.Fatalf("write time: %v", err)
	}
	if err := vlat.WriteFloat32s([]float32{50, 49, 48}); err != nil {
		t.Fatalf("write lat: %v", err)
	}
	if err := vlon.WriteFloat32s([]float32{0, 1, 2, 3}); err != nil {
		t.Fatalf("write lon: %v", err)
	}
	values := make([]int16, 2*3*4)
	for i := range values {
		values[i] = int16(100 * i)
	}
	if err := vno2.WriteInt16s(values); err != nil {
		t.Fatalf("write no2: %v", err)
	}
}

func TestOpen_Header(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cams.nc")
	createReanalysisTestFile(t, path)

	src, err := New().Open(path)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	h := src.Header()
	assert.Equal(t, []domain.Dim{{Name: "time", Len: 2}, {Name: "latitude", Len: 3}, {Name: "longitude", Len: 4}}, h.Dims)

	no2, ok := h.Var("no2_conc")
	require.True(t, ok)
	assert.Equal(t, domain.Int16, no2.Type)
	assert.Equal(t, []string{"time", "latitude", "longitude"}, no2.Dims)
	fill, ok := no2.FillValue()
	require.True(t, ok)
	assert.Equal(t, -32767.0, fill)
	units, _ := no2.Attrs.Get("units")
	assert.Equal(t, "µg m-3", units.Value)

	conv, ok := h.Attrs.Get("Conventions")
	require.True(t, ok)
	assert.Equal(t, "CF-1.6", conv.Value)
}

func TestRead_Hyperslab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cams.nc")
	createReanalysisTestFile(t, path)

	src, err := New().Open(path)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	// Values are returned as stored, without scale_factor.
	got, err := src.Read("no2_conc", []int{1, 1, 2}, []int{1, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1800, 1900, 2200, 2300}, got)

	lats, err := src.Read("latitude", []int{0}, []int{3})
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 49, 48}, lats)

	_, err = src.Read("no2_conc", []int{0, 0, 0}, []int{3, 1, 1})
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cams.nc")
	createReanalysisTestFile(t, path)

	src, err := New().Open(path)
	require.NoError(t, err)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	_, err = src.Read("latitude", []int{0}, []int{3})
	assert.Error(t, err)
}

func TestWrite_RoundTrip(t *testing.T) {
	ds := &domain.Dataset{
		Dims: []domain.Dim{{Name: "latitude", Len: 2}, {Name: "longitude", Len: 3}},
		Vars: []*domain.Variable{
			{VarInfo: domain.VarInfo{Name: "latitude", Dims: []string{"latitude"}, Type: domain.Float64}, Data: []float64{45, 44}},
			{VarInfo: domain.VarInfo{Name: "longitude", Dims: []string{"longitude"}, Type: domain.Float64}, Data: []float64{1, 2, 3}},
			{VarInfo: domain.VarInfo{Name: "pm10", Dims: []string{"latitude", "longitude"}, Type: domain.Float32,
				Attrs: domain.Attributes{
					{Name: "_FillValue", Value: []float64{-999}},
					{Name: "grid_mapping", Value: "spatial_ref"},
				}}, Data: []float64{1, 2, -999, 4, 5, 6}},
			{VarInfo: domain.VarInfo{Name: "spatial_ref", Type: domain.Int32,
				Attrs: domain.Attributes{{Name: "semi_major_axis", Value: []float64{6378137}}}}, Data: []float64{0}},
		},
		Attrs:  domain.Attributes{{Name: "history", Value: "clipped"}},
		Format: domain.FormatNetCDF4,
	}
	path := filepath.Join(t.TempDir(), "out.nc")
	require.NoError(t, New().Write(path, ds))

	src, err := New().Open(path)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	h := src.Header()
	pm10, ok := h.Var("pm10")
	require.True(t, ok)
	assert.Equal(t, domain.Float32, pm10.Type)
	fill, _ := pm10.Attrs.Get("_FillValue")
	assert.Equal(t, []float32{-999}, fill.Value, "fill value stored with the variable type")

	got, err := src.Read("pm10", []int{0, 0}, []int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, -999, 4, 5, 6}, got)

	ref, err := src.Read("spatial_ref", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, ref)

	hist, _ := h.Attrs.Get("history")
	assert.Equal(t, "clipped", hist.Value)
}
