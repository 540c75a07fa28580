// Package classic reads and writes NetCDF classic (CDF-1 / CDF-2) files in
// pure Go.
package classic

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ctessum/cdf"

	"go.ngs.io/cams-clip/internal/domain"
)

// Backend is the classic-format store.
type Backend struct{}

// New returns a classic-format Backend.
func New() *Backend { return &Backend{} }

// Open implements store.Opener.
func (b *Backend) Open(path string) (domain.Source, error) {
	f, err := os.Open(path) //nolint:gosec // Paths come from the caller.
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	nc, err := cdf.Open(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read classic header of %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	s := &source{file: f, nc: nc, numRecs: int(nc.Header.NumRecs(info.Size()))}
	s.header = s.readHeader()
	return s, nil
}

type source struct {
	file    *os.File
	nc      *cdf.File
	numRecs int
	header  domain.Header
}

func (s *source) readHeader() domain.Header {
	h := s.nc.Header
	out := domain.Header{Format: domain.FormatClassic, Attrs: attributes(h, "")}

	names, lengths := h.Dimensions(""), h.Lengths("")
	for i, name := range names {
		n := lengths[i]
		if n == 0 {
			n = s.numRecs
		}
		out.Dims = append(out.Dims, domain.Dim{Name: name, Len: n})
	}
	for _, name := range h.Variables() {
		out.Vars = append(out.Vars, domain.VarInfo{
			Name:  name,
			Dims:  h.Dimensions(name),
			Type:  dataType(h.ZeroValue(name, 0)),
			Attrs: attributes(h, name),
		})
	}
	return out
}

func dataType(zero interface{}) domain.DataType {
	switch zero.(type) {
	case []float64:
		return domain.Float64
	case []float32:
		return domain.Float32
	case []int32:
		return domain.Int32
	case []int16:
		return domain.Int16
	case []uint8:
		return domain.Int8
	}
	// CHAR variables read as strings.
	return domain.Unsupported
}

func attributes(h *cdf.Header, v string) domain.Attributes {
	var out domain.Attributes
	for _, name := range h.Attributes(v) {
		var val any
		switch x := h.GetAttribute(v, name).(type) {
		case []uint8:
			i8 := make([]int8, len(x))
			for i, b := range x {
				i8[i] = int8(b)
			}
			val = i8
		case string, []int16, []int32, []float32, []float64:
			val = x
		default:
			continue
		}
		out = append(out, domain.Attribute{Name: name, Value: val})
	}
	return out
}

func (s *source) Header() domain.Header { return s.header }

func (s *source) Close() error { return s.file.Close() }

// Read implements domain.Source. cdf readers cover a contiguous range of
// the file, so the hyperslab is read one innermost run at a time.
func (s *source) Read(name string, start, count []int) ([]float64, error) {
	v, ok := s.header.Var(name)
	if !ok {
		return nil, fmt.Errorf("variable %s not found", name)
	}
	if v.Type == domain.Unsupported {
		return nil, fmt.Errorf("variable %s has an unsupported data type", name)
	}
	shape, err := s.header.Shape(v)
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

	out := make([]float64, 0, domain.Product(count))
	if cap(out) == 0 {
		return out, nil
	}
	if len(shape) == 0 {
		vals, err := s.readRun(name, nil, nil, 1)
		if err != nil {
			return nil, err
		}
		return vals, nil
	}

	last := len(shape) - 1
	run := count[last]
	idx := make([]int, len(shape))
	for {
		begin := make([]int, len(shape))
		end := make([]int, len(shape))
		for i := range idx {
			begin[i] = start[i] + idx[i]
			end[i] = begin[i]
		}
		end[last] = begin[last] + run - 1

		vals, err := s.readRun(name, begin, end, run)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)

		i := last - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < count[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return out, nil
		}
	}
}

func (s *source) readRun(name string, begin, end []int, n int) ([]float64, error) {
	r := s.nc.Reader(name, begin, end)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read %s at %v: %w", name, begin, err)
	}
	out := make([]float64, n)
	switch x := buf.(type) {
	case []float64:
		copy(out, x)
	case []float32:
		for i, val := range x {
			out[i] = float64(val)
		}
	case []int32:
		for i, val := range x {
			out[i] = float64(val)
		}
	case []int16:
		for i, val := range x {
			out[i] = float64(val)
		}
	case []uint8:
		for i, val := range x {
			out[i] = float64(int8(val))
		}
	default:
		return nil, fmt.Errorf("unexpected buffer type %T for %s", buf, name)
	}
	return out, nil
}

// Write implements store.Writer. Every dimension is written with a fixed
// length.
func (b *Backend) Write(path string, ds *domain.Dataset) (err error) {
	if err := ds.Validate(); err != nil {
		return err
	}
	h, err := buildHeader(ds)
	if err != nil {
		return err
	}

	f, err := os.Create(path) //nolint:gosec // Paths come from the caller.
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	nc, err := cdf.Create(f, h)
	if err != nil {
		return fmt.Errorf("failed to write classic header: %w", err)
	}
	for _, v := range ds.Vars {
		if v.Type == domain.Unsupported {
			continue
		}
		// The strider reports io.EOF once it reaches the end of a
		// fixed-size variable, including after the last value.
		w := nc.Writer(v.Name, nil, nil)
		n, err := w.Write(typed(v.Type, v.Data))
		if err != nil && !(errors.Is(err, io.EOF) && n == len(v.Data)) {
			return fmt.Errorf("failed to write %s: %w", v.Name, err)
		}
	}
	return cdf.UpdateNumRecs(f)
}

// buildHeader defines a classic header for ds. cdf panics on malformed
// definitions, so those are turned into errors.
func buildHeader(ds *domain.Dataset) (h *cdf.Header, err error) {
	names := make([]string, len(ds.Dims))
	lengths := make([]int, len(ds.Dims))
	for i, d := range ds.Dims {
		if d.Len <= 0 {
			return nil, fmt.Errorf("dimension %s has length %d; classic output needs fixed, non-empty dimensions", d.Name, d.Len)
		}
		names[i], lengths[i] = d.Name, d.Len
	}

	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("invalid classic header: %v", r)
		}
	}()

	h = cdf.NewHeader(names, lengths)
	for _, a := range ds.Attrs {
		if val, ok := attrValue(a.Value); ok {
			h.AddAttribute("", a.Name, val)
		}
	}
	for _, v := range ds.Vars {
		if v.Type == domain.Unsupported {
			continue
		}
		h.AddVariable(v.Name, v.Dims, typed(v.Type, nil))
		for _, a := range v.Attrs {
			if val, ok := attrValue(a.Value); ok {
				h.AddAttribute(v.Name, a.Name, val)
			}
		}
	}
	h.Define()
	return h, nil
}

func attrValue(v any) (interface{}, bool) {
	switch x := v.(type) {
	case string, []float64, []float32, []int32, []int16:
		return x, true
	case []int8:
		u := make([]uint8, len(x))
		for i, b := range x {
			u[i] = uint8(b)
		}
		return u, true
	}
	return nil, false
}

// typed converts values to the slice type cdf uses for t.
func typed(t domain.DataType, data []float64) interface{} {
	switch t {
	case domain.Float32:
		out := make([]float32, len(data))
		for i, x := range data {
			out[i] = float32(x)
		}
		return out
	case domain.Int32:
		out := make([]int32, len(data))
		for i, x := range data {
			out[i] = int32(math.Round(x))
		}
		return out
	case domain.Int16:
		out := make([]int16, len(data))
		for i, x := range data {
			out[i] = int16(math.Round(x))
		}
		return out
	case domain.Int8:
		out := make([]uint8, len(data))
		for i, x := range data {
			out[i] = uint8(int8(math.Round(x)))
		}
		return out
	default:
		out := make([]float64, len(data))
		copy(out, data)
		return out
	}
}
