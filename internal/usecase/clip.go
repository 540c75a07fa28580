package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.ngs.io/cams-clip/internal/adapter/store"
	"go.ngs.io/cams-clip/internal/clip"
	"go.ngs.io/cams-clip/internal/domain"
)

// ClipRequest asks for one source dataset to be reduced to an AOI and
// written to Destination.
type ClipRequest struct {
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	AOI         domain.AOI `json:"aoi"`
}

// Validate checks that the request is complete.
func (r *ClipRequest) Validate() error {
	if r.Source == "" {
		return domain.NewClipError(domain.CodeInvalidRequest, "source path is required", nil)
	}
	if r.Destination == "" {
		return domain.NewClipError(domain.CodeInvalidRequest, "destination path is required", nil)
	}
	if filepath.Clean(r.Source) == filepath.Clean(r.Destination) {
		return domain.NewClipError(domain.CodeInvalidRequest, "destination must differ from source", nil)
	}
	return r.AOI.Check()
}

// AxisExtent describes one spatial axis of a clip result.
type AxisExtent struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	First float64 `json:"first"`
	Last  float64 `json:"last"`
}

// ClipResponse describes a written clip result.
type ClipResponse struct {
	Output    string     `json:"output"`
	Format    string     `json:"format"`
	Latitude  AxisExtent `json:"latitude"`
	Longitude AxisExtent `json:"longitude"`
	Variables []string   `json:"variables"`
}

// GeometryLoader reads the features of a vector file.
type GeometryLoader interface {
	HasCRS(path string) (bool, error)
	Load(path string) (domain.FeatureSet, error)
}

// ClipUseCase orchestrates opening, clipping, validating and writing.
type ClipUseCase struct {
	opener     store.Opener
	writer     store.Writer
	geoms      GeometryLoader
	clipper    *clip.Clipper
	normalizer *clip.Normalizer
	workers    int
	log        logrus.FieldLogger
}

// NewClipUseCase creates a ClipUseCase. workers bounds ExecuteBatch and
// defaults to the number of CPUs.
func NewClipUseCase(opener store.Opener, writer store.Writer, geoms GeometryLoader, workers int, log logrus.FieldLogger) (*ClipUseCase, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	normalizer, err := clip.NewNormalizer(log)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &ClipUseCase{
		opener:     opener,
		writer:     writer,
		geoms:      geoms,
		clipper:    clip.NewClipper(log),
		normalizer: normalizer,
		workers:    workers,
		log:        log,
	}, nil
}

// onceCloser makes Close idempotent so a handle can be released both by
// the validator and by a deferred close.
type onceCloser struct {
	once sync.Once
	c    io.Closer
	err  error
}

func (o *onceCloser) Close() error {
	o.once.Do(func() { o.err = o.c.Close() })
	return o.err
}

// Execute runs one clip. The destination is only created when the whole
// clip succeeds.
func (u *ClipUseCase) Execute(ctx context.Context, req ClipRequest) (*ClipResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := u.log.WithFields(logrus.Fields{
		"source":      req.Source,
		"destination": req.Destination,
		"aoi":         string(req.AOI.Kind),
	})

	// The region is prepared first so CRS problems surface before the
	// dataset is opened.
	var region geom.Polygonal
	if req.AOI.Kind == domain.AOIPolygon {
		r, err := u.region(req.AOI.Polygon)
		if err != nil {
			return nil, err
		}
		region = r
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := u.opener.Open(req.Source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.NewClipErrorWithDetails(domain.CodeInvalidRequest,
				fmt.Sprintf("source dataset %s does not exist", filepath.Base(req.Source)), err,
				map[string]any{"source": req.Source})
		}
		return nil, fmt.Errorf("failed to open source dataset: %w", err)
	}
	handle := &onceCloser{c: src}
	defer func() { _ = handle.Close() }()

	var ds *domain.Dataset
	if region != nil {
		ds, err = u.clipper.ClipPolygon(src, region)
	} else {
		ds, err = u.clipper.ClipBox(src, *req.AOI.Box)
	}
	if err != nil {
		log.WithFields(logrus.Fields{"code": string(domain.CodeOf(err))}).Info("clip failed")
		return nil, err
	}
	if err := clip.ValidateResult(ds, handle); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := store.WriteAtomic(u.writer, req.Destination, ds); err != nil {
		return nil, err
	}
	if err := handle.Close(); err != nil {
		log.WithError(err).Warn("failed to close source dataset")
	}

	resp, err := describe(req.Destination, ds)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"lat_cells": resp.Latitude.Count,
		"lon_cells": resp.Longitude.Count,
		"variables": len(resp.Variables),
	}).Info("clip written")
	return resp, nil
}

// region loads and normalises a polygon AOI. The reference system is
// settled before any geometry is decoded, so a file without one fails with
// MissingCRS whatever its content.
func (u *ClipUseCase) region(p *domain.PolygonRegion) (geom.Polygonal, error) {
	var declared *proj.SR
	if p.DeclaredCRS != "" {
		sr, err := clip.ParseCRS(p.DeclaredCRS)
		if err != nil {
			return nil, err
		}
		declared = sr
	} else {
		ok, err := u.geoms.HasCRS(p.Source)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, clip.MissingCRSError()
		}
	}

	fs, err := u.geoms.Load(p.Source)
	if err != nil {
		return nil, err
	}
	if declared != nil {
		fs.SR, fs.CRSName = declared, p.DeclaredCRS
	}
	return u.normalizer.Normalize(fs)
}

func describe(output string, ds *domain.Dataset) (*ClipResponse, error) {
	axes, err := clip.ResolveAxes(ds.Header())
	if err != nil {
		return nil, err
	}
	resp := &ClipResponse{
		Output:    output,
		Format:    ds.Format.String(),
		Latitude:  extent(ds, axes.Lat),
		Longitude: extent(ds, axes.Lon),
	}
	for _, v := range ds.Header().DataVars() {
		resp.Variables = append(resp.Variables, v.Name)
	}
	return resp, nil
}

func extent(ds *domain.Dataset, dim string) AxisExtent {
	e := AxisExtent{Name: dim, Count: ds.DimLen(dim)}
	if v, ok := ds.Var(dim); ok && len(v.Data) > 0 {
		e.First, e.Last = v.Data[0], v.Data[len(v.Data)-1]
	}
	return e
}

// Batch outcome states.
const (
	BatchOK      = "ok"
	BatchFailed  = "failed"
	BatchSkipped = "skipped"
)

// BatchOutcome is the result of one request of a batch.
type BatchOutcome struct {
	Index       int              `json:"index"`
	Destination string           `json:"destination"`
	Status      string           `json:"status"`
	Result      *ClipResponse    `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	Code        domain.ErrorCode `json:"code,omitempty"`
}

// ExecuteBatch clips reqs with at most u.workers running at once. The
// first failure stops requests that have not started yet; it is returned
// together with every outcome.
func (u *ClipUseCase) ExecuteBatch(ctx context.Context, reqs []ClipRequest) ([]BatchOutcome, error) {
	seen := make(map[string]int, len(reqs))
	for i, r := range reqs {
		dest := filepath.Clean(r.Destination)
		if j, ok := seen[dest]; ok {
			return nil, domain.NewClipErrorWithDetails(domain.CodeInvalidRequest,
				fmt.Sprintf("requests %d and %d write the same destination", j, i), nil,
				map[string]any{"destination": r.Destination})
		}
		seen[dest] = i
	}

	outcomes := make([]BatchOutcome, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.workers)
	for i, req := range reqs {
		outcomes[i] = BatchOutcome{Index: i, Destination: req.Destination, Status: BatchSkipped}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			resp, err := u.Execute(gctx, req)
			if err != nil {
				outcomes[i].Status = BatchFailed
				outcomes[i].Error = err.Error()
				outcomes[i].Code = domain.CodeOf(err)
				return fmt.Errorf("request %d: %w", i, err)
			}
			outcomes[i].Status = BatchOK
			outcomes[i].Result = resp
			return nil
		})
	}
	err := g.Wait()
	u.log.WithFields(logrus.Fields{"requests": len(reqs), "workers": u.workers}).Info("batch finished")
	return outcomes, err
}
