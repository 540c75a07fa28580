package usecase

import (
	"context"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"go.ngs.io/cams-clip/internal/adapter/interp"
	"go.ngs.io/cams-clip/internal/adapter/store"
	"go.ngs.io/cams-clip/internal/clip"
	"go.ngs.io/cams-clip/internal/domain"
)

// Statistic names accepted by Summary.
var statNames = []string{"mean", "max", "min", "std"}

// Bivariate methods.
const (
	MethodCorrelation = "correlation"
	MethodRegression  = "regression"
	MethodAccuracy    = "accuracy"
)

// SummaryRequest asks for descriptive statistics of one variable. An
// empty Variable selects the first data variable; empty Stats selects all.
type SummaryRequest struct {
	Path     string   `json:"path"`
	Variable string   `json:"variable,omitempty"`
	Stats    []string `json:"stats,omitempty"`
}

// SummaryResponse holds the requested statistics.
type SummaryResponse struct {
	Path     string             `json:"path"`
	Variable string             `json:"variable"`
	Count    int                `json:"count"`
	Stats    map[string]float64 `json:"stats"`
}

// BivariateRequest compares two variables of one dataset cell by cell.
type BivariateRequest struct {
	Path      string `json:"path"`
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Method    string `json:"method"`
}

// BivariateResponse carries the result of the chosen method.
type BivariateResponse struct {
	Method      string              `json:"method"`
	Primary     string              `json:"primary"`
	Secondary   string              `json:"secondary"`
	Correlation *domain.Correlation `json:"correlation,omitempty"`
	Regression  *domain.Regression  `json:"regression,omitempty"`
	Accuracy    *domain.Accuracy    `json:"accuracy,omitempty"`
}

// VariableInfo describes one variable of an inspected dataset.
type VariableInfo struct {
	Name  string         `json:"name"`
	Dims  []string       `json:"dims"`
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// InspectResponse lists the structure of a dataset.
type InspectResponse struct {
	Path      string         `json:"path"`
	Format    string         `json:"format"`
	Dims      []domain.Dim   `json:"dims"`
	Variables []VariableInfo `json:"variables"`
	DataVars  []string       `json:"data_vars"`
	Attrs     map[string]any `json:"attrs,omitempty"`
	Axes      *clip.Axes     `json:"axes,omitempty"`
}

// ProbeRequest samples a variable at a point. Index selects the position
// along every non-spatial dimension (time, level).
type ProbeRequest struct {
	Path     string  `json:"path"`
	Variable string  `json:"variable"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Index    int     `json:"index"`
}

// ProbeResponse is the interpolated value at the probed point.
type ProbeResponse struct {
	Variable string  `json:"variable"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Index    int     `json:"index"`
	Value    float64 `json:"value"`
	Units    string  `json:"units,omitempty"`
}

// AnalysisUseCase answers read-only questions about datasets.
type AnalysisUseCase struct {
	opener store.Opener
	log    logrus.FieldLogger
}

// NewAnalysisUseCase creates an AnalysisUseCase.
func NewAnalysisUseCase(opener store.Opener, log logrus.FieldLogger) *AnalysisUseCase {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AnalysisUseCase{opener: opener, log: log}
}

func invalid(format string, args ...any) error {
	return domain.NewClipError(domain.CodeInvalidRequest, fmt.Sprintf(format, args...), nil)
}

func (u *AnalysisUseCase) open(path string) (domain.Source, error) {
	if path == "" {
		return nil, invalid("path is required")
	}
	src, err := u.opener.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return src, nil
}

// readVariable reads the whole of name, unpacked, with missing values as
// NaN.
func readVariable(src domain.Source, name string) (*domain.Variable, error) {
	h := src.Header()
	info, ok := h.Var(name)
	if !ok {
		return nil, invalid("variable %s not found", name)
	}
	if info.Type == domain.Unsupported {
		return nil, invalid("variable %s has an unsupported data type", name)
	}
	shape, err := h.Shape(info)
	if err != nil {
		return nil, err
	}
	data, err := src.Read(name, make([]int, len(shape)), shape)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	v := &domain.Variable{VarInfo: info, Data: data}
	v.Data = v.Unpacked()
	return v, nil
}

// Summary computes descriptive statistics.
func (u *AnalysisUseCase) Summary(ctx context.Context, req SummaryRequest) (*SummaryResponse, error) {
	stats := req.Stats
	if len(stats) == 0 {
		stats = statNames
	}
	for _, s := range stats {
		if !slices.Contains(statNames, s) {
			return nil, invalid("unknown statistic %q; expected one of %v", s, statNames)
		}
	}

	src, err := u.open(req.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	name := req.Variable
	if name == "" {
		vars := src.Header().DataVars()
		if len(vars) == 0 {
			return nil, invalid("%s has no data variable", req.Path)
		}
		name = vars[0].Name
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := readVariable(src, name)
	if err != nil {
		return nil, err
	}
	s, err := domain.Summarize(name, v.Data)
	if err != nil {
		return nil, invalid("%v", err)
	}

	all := map[string]float64{"mean": s.Mean, "max": s.Max, "min": s.Min, "std": s.Std}
	resp := &SummaryResponse{Path: req.Path, Variable: name, Count: s.Count, Stats: make(map[string]float64, len(stats))}
	for _, st := range stats {
		resp.Stats[st] = all[st]
	}
	u.log.WithFields(logrus.Fields{"path": req.Path, "variable": name, "count": s.Count}).Debug("summary computed")
	return resp, nil
}

// Bivariate compares two variables with the requested method.
func (u *AnalysisUseCase) Bivariate(ctx context.Context, req BivariateRequest) (*BivariateResponse, error) {
	if req.Primary == "" || req.Secondary == "" {
		return nil, invalid("primary and secondary variables are required")
	}
	method := req.Method
	if method == "" {
		method = MethodCorrelation
	}
	switch method {
	case MethodCorrelation, MethodRegression, MethodAccuracy:
	default:
		return nil, invalid("unknown method %q", req.Method)
	}

	src, err := u.open(req.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	x, err := readVariable(src, req.Primary)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	y, err := readVariable(src, req.Secondary)
	if err != nil {
		return nil, err
	}

	resp := &BivariateResponse{Method: method, Primary: req.Primary, Secondary: req.Secondary}
	switch method {
	case MethodCorrelation:
		c, err := domain.Pearson(x.Data, y.Data)
		if err != nil {
			return nil, invalid("%v", err)
		}
		resp.Correlation = &c
	case MethodRegression:
		r, err := domain.LinearRegression(x.Data, y.Data)
		if err != nil {
			return nil, invalid("%v", err)
		}
		resp.Regression = &r
	case MethodAccuracy:
		a, err := domain.ClassificationAccuracy(x.Data, y.Data)
		if err != nil {
			return nil, invalid("%v", err)
		}
		resp.Accuracy = &a
	}
	return resp, nil
}

// Inspect lists the dimensions, variables and attributes of a dataset.
func (u *AnalysisUseCase) Inspect(_ context.Context, path string) (*InspectResponse, error) {
	src, err := u.open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	h := src.Header()
	resp := &InspectResponse{
		Path:   path,
		Format: h.Format.String(),
		Dims:   h.Dims,
		Attrs:  attrMap(h.Attrs),
	}
	for _, v := range h.Vars {
		resp.Variables = append(resp.Variables, VariableInfo{
			Name:  v.Name,
			Dims:  append([]string{}, v.Dims...),
			Type:  v.Type.String(),
			Attrs: attrMap(v.Attrs),
		})
	}
	for _, v := range h.DataVars() {
		resp.DataVars = append(resp.DataVars, v.Name)
	}
	if axes, err := clip.ResolveAxes(h); err == nil {
		resp.Axes = &axes
	}
	return resp, nil
}

func attrMap(attrs domain.Attributes) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	m := make(map[string]any, len(attrs))
	for _, a := range attrs {
		m[a.Name] = a.Value
	}
	return m
}

// Probe interpolates a variable bilinearly at (lat, lon).
func (u *AnalysisUseCase) Probe(_ context.Context, req ProbeRequest) (*ProbeResponse, error) {
	if req.Variable == "" {
		return nil, invalid("variable is required")
	}
	if req.Index < 0 {
		return nil, invalid("index must not be negative")
	}
	src, err := u.open(req.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	h := src.Header()
	axes, err := clip.ResolveAxes(h)
	if err != nil {
		return nil, err
	}
	info, ok := h.Var(req.Variable)
	if !ok {
		return nil, invalid("variable %s not found", req.Variable)
	}
	if !info.HasDim(axes.Lat) || !info.HasDim(axes.Lon) || info.DimIndex(axes.Lat) > info.DimIndex(axes.Lon) {
		return nil, invalid("variable %s is not gridded over (%s, %s)", req.Variable, axes.Lat, axes.Lon)
	}
	lats, err := clip.CoordinateValues(src, axes.Lat)
	if err != nil {
		return nil, err
	}
	lons, err := clip.CoordinateValues(src, axes.Lon)
	if err != nil {
		return nil, err
	}

	shape, err := h.Shape(info)
	if err != nil {
		return nil, err
	}
	start := make([]int, len(shape))
	count := make([]int, len(shape))
	for i, name := range info.Dims {
		switch name {
		case axes.Lat, axes.Lon:
			count[i] = shape[i]
		default:
			if req.Index >= shape[i] {
				return nil, invalid("index %d out of range for dimension %s (length %d)", req.Index, name, shape[i])
			}
			start[i], count[i] = req.Index, 1
		}
	}
	data, err := src.Read(req.Variable, start, count)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", req.Variable, err)
	}
	v := &domain.Variable{VarInfo: info, Data: data}

	grid := &interp.Grid{Lat: lats, Lon: lons, Values: v.Unpacked()}
	value, err := grid.At(req.Lat, req.Lon)
	if err != nil {
		return nil, invalid("%v", err)
	}
	resp := &ProbeResponse{Variable: req.Variable, Lat: req.Lat, Lon: req.Lon, Index: req.Index, Value: value}
	if a, ok := info.Attrs.Get("units"); ok {
		if s, ok := a.Value.(string); ok {
			resp.Units = s
		}
	}
	return resp, nil
}
