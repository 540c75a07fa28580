package nc

import (
	"fmt"
	"math"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/cams-clip/internal/domain"
)

func ncType(t domain.DataType) (netcdf.Type, error) {
	switch t {
	case domain.Float64:
		return netcdf.DOUBLE, nil
	case domain.Float32:
		return netcdf.FLOAT, nil
	case domain.Int32:
		return netcdf.INT, nil
	case domain.Int16, domain.Int8:
		return netcdf.SHORT, nil
	}
	return netcdf.DOUBLE, fmt.Errorf("no NetCDF type for %s", t)
}

// Write implements store.Writer. The file is created as NetCDF-4.
func (b *Backend) Write(path string, ds *domain.Dataset) (err error) {
	if err := ds.Validate(); err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	f, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return fmt.Errorf("failed to create NetCDF file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	dims := make(map[string]netcdf.Dim, len(ds.Dims))
	for _, d := range ds.Dims {
		dim, err := f.AddDim(d.Name, uint64(d.Len)) //nolint:gosec // Validated non-negative.
		if err != nil {
			return fmt.Errorf("failed to add dimension %s: %w", d.Name, err)
		}
		dims[d.Name] = dim
	}
	if err := writeAttrs(f.Attr, ds.Attrs, domain.Unsupported); err != nil {
		return fmt.Errorf("failed to write global attributes: %w", err)
	}

	type pending struct {
		v    netcdf.Var
		data *domain.Variable
	}
	var vars []pending
	for _, v := range ds.Vars {
		t, err := ncType(v.Type)
		if err != nil {
			continue
		}
		vdims := make([]netcdf.Dim, len(v.Dims))
		for i, name := range v.Dims {
			vdims[i] = dims[name]
		}
		nv, err := f.AddVar(v.Name, t, vdims)
		if err != nil {
			return fmt.Errorf("failed to add variable %s: %w", v.Name, err)
		}
		if err := writeAttrs(nv.Attr, v.Attrs, v.Type); err != nil {
			return fmt.Errorf("failed to write attributes of %s: %w", v.Name, err)
		}
		vars = append(vars, pending{v: nv, data: v})
	}

	if err := f.EndDef(); err != nil {
		return fmt.Errorf("enddef: %w", err)
	}
	for _, p := range vars {
		if err := writeValues(p.v, p.data.Type, p.data.Data); err != nil {
			return fmt.Errorf("failed to write %s: %w", p.data.Name, err)
		}
	}
	return nil
}

// writeAttrs writes attrs through attr. A _FillValue is stored with the
// variable's own type, as libnetcdf requires.
func writeAttrs(attr func(string) netcdf.Attr, attrs domain.Attributes, varType domain.DataType) error {
	for _, a := range attrs {
		val := a.Value
		if a.Name == "_FillValue" && varType != domain.Unsupported {
			f, ok := a.Float()
			if !ok {
				continue
			}
			val = fillOfType(varType, f)
		}
		var err error
		switch x := val.(type) {
		case string:
			err = attr(a.Name).WriteBytes([]byte(x))
		case []float64:
			err = attr(a.Name).WriteFloat64s(x)
		case []float32:
			err = attr(a.Name).WriteFloat32s(x)
		case []int32:
			err = attr(a.Name).WriteInt32s(x)
		case []int16:
			err = attr(a.Name).WriteInt16s(x)
		case []int8:
			wide := make([]int16, len(x))
			for i, b := range x {
				wide[i] = int16(b)
			}
			err = attr(a.Name).WriteInt16s(wide)
		}
		if err != nil {
			return fmt.Errorf("attribute %s: %w", a.Name, err)
		}
	}
	return nil
}

func fillOfType(t domain.DataType, f float64) any {
	switch t {
	case domain.Float32:
		return []float32{float32(f)}
	case domain.Int32:
		return []int32{int32(f)}
	case domain.Int16, domain.Int8:
		return []int16{int16(f)}
	}
	return []float64{f}
}

func writeValues(v netcdf.Var, t domain.DataType, data []float64) error {
	switch t {
	case domain.Float32:
		buf := make([]float32, len(data))
		for i, x := range data {
			buf[i] = float32(x)
		}
		return v.WriteFloat32s(buf)
	case domain.Int32:
		buf := make([]int32, len(data))
		for i, x := range data {
			buf[i] = int32(math.Round(x))
		}
		return v.WriteInt32s(buf)
	case domain.Int16, domain.Int8:
		buf := make([]int16, len(data))
		for i, x := range data {
			buf[i] = int16(math.Round(x))
		}
		return v.WriteInt16s(buf)
	}
	return v.WriteFloat64s(data)
}
