// Package nc reads and writes NetCDF files through libnetcdf. It handles
// NetCDF-4 (HDF5) as well as classic files.
package nc

import (
	"fmt"
	"sync"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/cams-clip/internal/domain"
)

// libnetcdf is not thread-safe; every call into it holds mu.
var mu sync.Mutex

// Backend is the libnetcdf store. Writes produce NetCDF-4 files.
type Backend struct{}

// New returns a libnetcdf Backend.
func New() *Backend { return &Backend{} }

// Open implements store.Opener.
func (b *Backend) Open(path string) (domain.Source, error) {
	mu.Lock()
	defer mu.Unlock()

	ds, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file: %w", err)
	}
	h, vars, err := readHeader(ds)
	if err != nil {
		_ = ds.Close()
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	return &source{ds: ds, header: h, vars: vars}, nil
}

type source struct {
	ds     netcdf.Dataset
	header domain.Header
	vars   map[string]netcdf.Var
	closed bool
}

func dataType(t netcdf.Type) domain.DataType {
	switch t {
	case netcdf.DOUBLE:
		return domain.Float64
	case netcdf.FLOAT:
		return domain.Float32
	case netcdf.INT:
		return domain.Int32
	case netcdf.SHORT:
		return domain.Int16
	}
	return domain.Unsupported
}

func readHeader(ds netcdf.Dataset) (domain.Header, map[string]netcdf.Var, error) {
	h := domain.Header{Format: domain.FormatNetCDF4}

	nattrs, err := ds.NAttrs()
	if err != nil {
		return h, nil, err
	}
	for i := 0; i < nattrs; i++ {
		a, err := ds.AttrN(i)
		if err != nil {
			return h, nil, err
		}
		if val, ok := readAttr(a); ok {
			h.Attrs = append(h.Attrs, domain.Attribute{Name: a.Name(), Value: val})
		}
	}

	nvars, err := ds.NVars()
	if err != nil {
		return h, nil, err
	}
	vars := make(map[string]netcdf.Var, nvars)
	seen := make(map[string]bool)
	for i := 0; i < nvars; i++ {
		v := ds.VarN(i)
		name, err := v.Name()
		if err != nil {
			return h, nil, err
		}
		t, err := v.Type()
		if err != nil {
			return h, nil, fmt.Errorf("failed to get type of %s: %w", name, err)
		}
		dims, err := v.Dims()
		if err != nil {
			return h, nil, fmt.Errorf("failed to get dimensions of %s: %w", name, err)
		}
		info := domain.VarInfo{Name: name, Type: dataType(t)}
		for _, d := range dims {
			dname, err := d.Name()
			if err != nil {
				return h, nil, err
			}
			info.Dims = append(info.Dims, dname)
			if seen[dname] {
				continue
			}
			n, err := d.Len()
			if err != nil {
				return h, nil, err
			}
			seen[dname] = true
			h.Dims = append(h.Dims, domain.Dim{Name: dname, Len: int(n)}) //nolint:gosec // Dimension lengths fit in int.
		}

		nva, err := v.NAttrs()
		if err != nil {
			return h, nil, err
		}
		for j := 0; j < nva; j++ {
			a, err := v.AttrN(j)
			if err != nil {
				return h, nil, err
			}
			if val, ok := readAttr(a); ok {
				info.Attrs = append(info.Attrs, domain.Attribute{Name: a.Name(), Value: val})
			}
		}
		h.Vars = append(h.Vars, info)
		vars[name] = v
	}
	return h, vars, nil
}

// readAttr reads text and the numeric types the clipper carries. Other
// attribute types are dropped.
func readAttr(a netcdf.Attr) (any, bool) {
	t, err := a.Type()
	if err != nil {
		return nil, false
	}
	n, err := a.Len()
	if err != nil {
		return nil, false
	}
	switch t {
	case netcdf.CHAR:
		buf := make([]byte, n)
		if err := a.ReadBytes(buf); err != nil {
			return nil, false
		}
		// Strip the NUL terminator some writers add.
		for len(buf) > 0 && buf[len(buf)-1] == 0 {
			buf = buf[:len(buf)-1]
		}
		return string(buf), true
	case netcdf.DOUBLE:
		buf := make([]float64, n)
		return buf, a.ReadFloat64s(buf) == nil
	case netcdf.FLOAT:
		buf := make([]float32, n)
		return buf, a.ReadFloat32s(buf) == nil
	case netcdf.INT:
		buf := make([]int32, n)
		return buf, a.ReadInt32s(buf) == nil
	case netcdf.SHORT:
		buf := make([]int16, n)
		return buf, a.ReadInt16s(buf) == nil
	}
	return nil, false
}

func (s *source) Header() domain.Header { return s.header }

func (s *source) Close() error {
	mu.Lock()
	defer mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.ds.Close()
}

// Read implements domain.Source.
func (s *source) Read(name string, start, count []int) ([]float64, error) {
	info, ok := s.header.Var(name)
	if !ok {
		return nil, fmt.Errorf("variable %s not found", name)
	}
	shape, err := s.header.Shape(info)
	if err != nil {
		return nil, err
	}
	if len(start) != len(shape) || len(count) != len(shape) {
		return nil, fmt.Errorf("slab rank mismatch for %s: shape %v, start %v, count %v", name, shape, start, count)
	}
	for i := range shape {
		if start[i] < 0 || count[i] < 0 || start[i]+count[i] > shape[i] {
			return nil, fmt.Errorf("slab out of range for %s on dim %d", name, i)
		}
	}
	total := domain.Product(count)
	if total == 0 {
		return []float64{}, nil
	}

	mu.Lock()
	defer mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("read %s: dataset is closed", name)
	}
	v := s.vars[name]
	if len(shape) == 0 {
		return readWhole(v, 1)
	}
	st := make([]uint64, len(start))
	ct := make([]uint64, len(count))
	for i := range start {
		st[i] = uint64(start[i]) //nolint:gosec // Checked non-negative above.
		ct[i] = uint64(count[i]) //nolint:gosec // Checked non-negative above.
	}
	return readSlab(v, st, ct, total)
}

// readSlab reads a hyperslab of v as float64. Values are returned as
// stored; scale_factor is left to the caller.
func readSlab(v netcdf.Var, start, count []uint64, total int) ([]float64, error) {
	varType, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get variable type: %w", err)
	}

	flatData := make([]float64, total)
	switch varType {
	case netcdf.DOUBLE:
		err = v.ReadFloat64Slice(flatData, start, count)
		if err != nil {
			return nil, fmt.Errorf("failed to read float64 subset: %w", err)
		}
	case netcdf.FLOAT:
		float32Data := make([]float32, total)
		if err := v.ReadFloat32Slice(float32Data, start, count); err != nil {
			return nil, fmt.Errorf("failed to read float32 subset: %w", err)
		}
		for i, val := range float32Data {
			flatData[i] = float64(val)
		}
	case netcdf.SHORT:
		int16Data := make([]int16, total)
		if err := v.ReadInt16Slice(int16Data, start, count); err != nil {
			return nil, fmt.Errorf("failed to read int16 subset: %w", err)
		}
		for i, val := range int16Data {
			flatData[i] = float64(val)
		}
	case netcdf.INT:
		int32Data := make([]int32, total)
		if err := v.ReadInt32Slice(int32Data, start, count); err != nil {
			return nil, fmt.Errorf("failed to read int32 subset: %w", err)
		}
		for i, val := range int32Data {
			flatData[i] = float64(val)
		}
	default:
		return nil, fmt.Errorf("unsupported data type: %v (expected DOUBLE, FLOAT, INT, or SHORT)", varType)
	}
	return flatData, nil
}

// readWhole reads every value of a scalar or small variable.
func readWhole(v netcdf.Var, total int) ([]float64, error) {
	varType, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get variable type: %w", err)
	}
	out := make([]float64, total)
	switch varType {
	case netcdf.DOUBLE:
		err = v.ReadFloat64s(out)
	case netcdf.FLOAT:
		buf := make([]float32, total)
		err = v.ReadFloat32s(buf)
		for i, x := range buf {
			out[i] = float64(x)
		}
	case netcdf.INT:
		buf := make([]int32, total)
		err = v.ReadInt32s(buf)
		for i, x := range buf {
			out[i] = float64(x)
		}
	case netcdf.SHORT:
		buf := make([]int16, total)
		err = v.ReadInt16s(buf)
		for i, x := range buf {
			out[i] = float64(x)
		}
	default:
		return nil, fmt.Errorf("unsupported data type: %v", varType)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
