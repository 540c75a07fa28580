package domain

import (
	"fmt"
	"math"
)

// DataType is the storage type of a variable.
type DataType int

// Supported storage types. Values are always carried as float64 in memory.
const (
	Unsupported DataType = iota
	Float64
	Float32
	Int32
	Int16
	Int8
)

func (t DataType) String() string {
	switch t {
	case Float64:
		return "double"
	case Float32:
		return "float"
	case Int32:
		return "int"
	case Int16:
		return "short"
	case Int8:
		return "byte"
	default:
		return "unsupported"
	}
}

// IsInteger reports whether values of this type cannot hold NaN.
func (t DataType) IsInteger() bool {
	return t == Int32 || t == Int16 || t == Int8
}

// Format identifies the on-disk flavour of a dataset.
type Format int

// Known formats.
const (
	FormatUnknown Format = iota
	FormatClassic        // CDF-1 / CDF-2 (64-bit offset).
	FormatNetCDF4        // HDF5-based.
)

func (f Format) String() string {
	switch f {
	case FormatClassic:
		return "classic"
	case FormatNetCDF4:
		return "netcdf4"
	default:
		return "unknown"
	}
}

// Attribute is a named NetCDF attribute. Value holds one of string,
// []float64, []float32, []int32, []int16 or []int8.
type Attribute struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Float returns the first element of a numeric attribute.
func (a Attribute) Float() (float64, bool) {
	switch v := a.Value.(type) {
	case []float64:
		if len(v) > 0 {
			return v[0], true
		}
	case []float32:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []int32:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []int16:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []int8:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	}
	return 0, false
}

// Attributes is an ordered attribute list.
type Attributes []Attribute

// Get returns the attribute with the given name.
func (as Attributes) Get(name string) (Attribute, bool) {
	for _, a := range as {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Set replaces the named attribute or appends it.
func (as Attributes) Set(name string, value any) Attributes {
	for i := range as {
		if as[i].Name == name {
			as[i].Value = value
			return as
		}
	}
	return append(as, Attribute{Name: name, Value: value})
}

// Clone returns a shallow copy of the list.
func (as Attributes) Clone() Attributes {
	if as == nil {
		return nil
	}
	out := make(Attributes, len(as))
	copy(out, as)
	return out
}

// Dim is a named dimension.
type Dim struct {
	Name string `json:"name"`
	Len  int    `json:"len"`
}

// VarInfo describes a variable without its data.
type VarInfo struct {
	Name  string     `json:"name"`
	Dims  []string   `json:"dims"`
	Type  DataType   `json:"-"`
	Attrs Attributes `json:"attrs,omitempty"`
}

// HasDim reports whether the variable is addressed by dim.
func (v VarInfo) HasDim(dim string) bool {
	return v.DimIndex(dim) >= 0
}

// DimIndex returns the position of dim in the variable's dims, or -1.
func (v VarInfo) DimIndex(dim string) int {
	for i, d := range v.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}

// FillValue returns the value used for missing cells, from _FillValue or
// missing_value.
func (v VarInfo) FillValue() (float64, bool) {
	for _, name := range []string{"_FillValue", "missing_value"} {
		if a, ok := v.Attrs.Get(name); ok {
			if f, ok := a.Float(); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// Header is the self-description of a gridded dataset.
type Header struct {
	Dims   []Dim      `json:"dims"`
	Vars   []VarInfo  `json:"variables"`
	Attrs  Attributes `json:"attrs,omitempty"`
	Format Format     `json:"-"`
}

// Dim returns the named dimension.
func (h Header) Dim(name string) (Dim, bool) {
	for _, d := range h.Dims {
		if d.Name == name {
			return d, true
		}
	}
	return Dim{}, false
}

// Var returns the named variable.
func (h Header) Var(name string) (VarInfo, bool) {
	for _, v := range h.Vars {
		if v.Name == name {
			return v, true
		}
	}
	return VarInfo{}, false
}

// DimNames lists dimension names in order.
func (h Header) DimNames() []string {
	names := make([]string, len(h.Dims))
	for i, d := range h.Dims {
		names[i] = d.Name
	}
	return names
}

// Shape returns the lengths of v's dims.
func (h Header) Shape(v VarInfo) ([]int, error) {
	shape := make([]int, len(v.Dims))
	for i, name := range v.Dims {
		d, ok := h.Dim(name)
		if !ok {
			return nil, fmt.Errorf("variable %s references unknown dimension %s", v.Name, name)
		}
		shape[i] = d.Len
	}
	return shape, nil
}

// DataVars returns variables that are not coordinate variables
// (a coordinate variable is 1-D over a dimension of the same name).
func (h Header) DataVars() []VarInfo {
	var out []VarInfo
	for _, v := range h.Vars {
		if len(v.Dims) == 1 && v.Dims[0] == v.Name {
			continue
		}
		if len(v.Dims) == 0 || v.Type == Unsupported {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Source is a read-only handle on a gridded dataset.
type Source interface {
	Header() Header
	// Read returns the hyperslab of the named variable starting at start
	// with count elements along each dim, flattened row-major.
	Read(name string, start, count []int) ([]float64, error)
	Close() error
}

// Variable is a variable together with its data.
type Variable struct {
	VarInfo
	Data []float64
}

// Unpacked returns the data with missing values as NaN and
// scale_factor / add_offset applied.
func (v *Variable) Unpacked() []float64 {
	scale, offset := 1.0, 0.0
	if a, ok := v.Attrs.Get("scale_factor"); ok {
		if f, ok := a.Float(); ok && f != 0 {
			scale = f
		}
	}
	if a, ok := v.Attrs.Get("add_offset"); ok {
		if f, ok := a.Float(); ok {
			offset = f
		}
	}
	fill, hasFill := v.FillValue()

	out := make([]float64, len(v.Data))
	for i, x := range v.Data {
		if hasFill && x == fill {
			out[i] = math.NaN()
			continue
		}
		out[i] = x*scale + offset
	}
	return out
}

// Dataset is an in-memory gridded dataset. It implements Source so a
// result can be clipped again without going through a file.
type Dataset struct {
	Dims   []Dim
	Vars   []*Variable
	Attrs  Attributes
	Format Format
}

// Header implements Source.
func (d *Dataset) Header() Header {
	h := Header{
		Dims:   append([]Dim(nil), d.Dims...),
		Attrs:  d.Attrs.Clone(),
		Format: d.Format,
	}
	for _, v := range d.Vars {
		info := v.VarInfo
		info.Dims = append([]string(nil), v.Dims...)
		info.Attrs = v.Attrs.Clone()
		h.Vars = append(h.Vars, info)
	}
	return h
}

// Var returns the named variable.
func (d *Dataset) Var(name string) (*Variable, bool) {
	for _, v := range d.Vars {
		if v.Name == name {
			return v, true
		}
	}
	return nil, false
}

// DimLen returns the length of the named dimension, or -1.
func (d *Dataset) DimLen(name string) int {
	for _, dim := range d.Dims {
		if dim.Name == name {
			return dim.Len
		}
	}
	return -1
}

// Read implements Source.
func (d *Dataset) Read(name string, start, count []int) ([]float64, error) {
	v, ok := d.Var(name)
	if !ok {
		return nil, fmt.Errorf("variable %s not found", name)
	}
	shape, err := d.Header().Shape(v.VarInfo)
	if err != nil {
		return nil, err
	}
	return Slab(v.Data, shape, start, count)
}

// Close implements Source.
func (d *Dataset) Close() error { return nil }

// Validate checks that every variable's dims exist and that its data
// length matches its shape.
func (d *Dataset) Validate() error {
	h := d.Header()
	seen := make(map[string]bool, len(d.Dims))
	for _, dim := range d.Dims {
		if seen[dim.Name] {
			return fmt.Errorf("duplicate dimension %s", dim.Name)
		}
		if dim.Len < 0 {
			return fmt.Errorf("dimension %s has negative length", dim.Name)
		}
		seen[dim.Name] = true
	}
	for _, v := range d.Vars {
		shape, err := h.Shape(v.VarInfo)
		if err != nil {
			return err
		}
		if n := Product(shape); n != len(v.Data) {
			return fmt.Errorf("variable %s has %d values, shape %v needs %d", v.Name, len(v.Data), shape, n)
		}
	}
	return nil
}

// Product multiplies the elements of shape. The product of no elements is 1.
func Product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Slab extracts a hyperslab from row-major data of the given shape.
func Slab(data []float64, shape, start, count []int) ([]float64, error) {
	if len(start) != len(shape) || len(count) != len(shape) {
		return nil, fmt.Errorf("slab rank mismatch: shape %v, start %v, count %v", shape, start, count)
	}
	for i := range shape {
		if start[i] < 0 || count[i] < 0 || start[i]+count[i] > shape[i] {
			return nil, fmt.Errorf("slab out of range on dim %d: start %d count %d len %d", i, start[i], count[i], shape[i])
		}
	}
	out := make([]float64, Product(count))
	if len(out) == 0 {
		return out, nil
	}
	if len(shape) == 0 {
		out[0] = data[0]
		return out, nil
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}

	last := len(shape) - 1
	run := count[last]
	idx := make([]int, len(shape))
	for o := 0; o < len(out); o += run {
		off := 0
		for i := range idx {
			off += (start[i] + idx[i]) * strides[i]
		}
		copy(out[o:o+run], data[off:off+run])

		// Advance the odometer over all dims except the innermost.
		for i := last - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < count[i] {
				break
			}
			idx[i] = 0
		}
	}
	return out, nil
}
