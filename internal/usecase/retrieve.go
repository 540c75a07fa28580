package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"go.ngs.io/cams-clip/internal/adapter/archive"
	"go.ngs.io/cams-clip/internal/adapter/store/catalog"
	"go.ngs.io/cams-clip/internal/domain"
)

// DownloadLogName is the retrieval log kept in every request folder.
const DownloadLogName = "cams_downloads.log"

// RetrievalResponse lists the files a retrieval produced.
type RetrievalResponse struct {
	Archive string        `json:"archive"`
	NetCDF  string        `json:"netcdf"`
	Clipped *ClipResponse `json:"clipped,omitempty"`
}

// RetrieveUseCase validates a retrieval request, fetches and unpacks its
// archive and optionally clips the unpacked grid.
type RetrieveUseCase struct {
	catalog  *catalog.Catalog
	fetcher  archive.Fetcher
	clip     *ClipUseCase
	validate *validator.Validate
	log      logrus.FieldLogger

	logMu sync.Mutex
}

// NewRetrieveUseCase creates a RetrieveUseCase. clip may be nil when
// requests never carry an AOI.
func NewRetrieveUseCase(cat *catalog.Catalog, fetcher archive.Fetcher, clip *ClipUseCase, log logrus.FieldLogger) *RetrieveUseCase {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RetrieveUseCase{
		catalog:  cat,
		fetcher:  fetcher,
		clip:     clip,
		validate: validator.New(),
		log:      log,
	}
}

// Validate applies the field rules and the catalog rules to req.
func (u *RetrieveUseCase) Validate(req domain.RetrievalRequest) error {
	if err := u.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return domain.NewClipErrorWithDetails(domain.CodeInvalidRequest, describeValidation(verrs), err,
				map[string]any{"fields": fieldNames(verrs)})
		}
		return domain.NewClipError(domain.CodeInvalidRequest, "invalid retrieval request", err)
	}
	if !req.AgreeTerms {
		return invalid("You must agree to the terms and conditions before downloading.")
	}

	v, ok := u.catalog.Variable(req.Variable)
	if !ok {
		return invalid("unknown variable %q", req.Variable)
	}
	if _, ok := u.catalog.Model(req.Model); !ok {
		return invalid("unknown model %q", req.Model)
	}
	if !u.catalog.HasLevel(req.Level) {
		return invalid("level %s is not offered; expected one of %v", req.Level, u.catalog.Levels())
	}
	if v.ValidatedOnly && req.Type != domain.ValidatedReanalysis {
		return invalid("The variable '%s' is only available in Validated reanalysis type.", v.Display)
	}

	year, month := req.Years[0], req.Months[0]
	first, last := u.catalog.YearSpan()
	if y, err := strconv.Atoi(year); err != nil || y < first || y > last {
		return invalid("year %s is outside %d-%d", year, first, last)
	}
	if m, err := strconv.Atoi(month); err != nil || m < 1 || m > 12 {
		return invalid("month %s is not between 01 and 12", month)
	}
	if !u.catalog.Available(req.Variable, req.Model, req.Type, year) {
		return domain.NewClipErrorWithDetails(domain.CodeInvalidRequest,
			fmt.Sprintf("%s from %s is not available for %s in %s", v.Display, req.Model, year, req.Type), nil,
			map[string]any{"available_years": u.catalog.Availability(req.Variable, req.Model, req.Type)})
	}

	if req.AOI != nil {
		if err := req.AOI.Check(); err != nil {
			return err
		}
		if req.AOI.Kind == domain.AOIBoundingBox {
			if err := checkBox(*req.AOI.Box); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkBox(b domain.BoundingBox) error {
	switch {
	case b.North <= b.South:
		return invalid("North latitude must be greater than South latitude.")
	case b.East <= b.West:
		return invalid("East longitude must be greater than West longitude.")
	case b.South < -90 || b.South > 90:
		return invalid("South latitude must be between -90 and 90 degrees.")
	case b.North < -90 || b.North > 90:
		return invalid("North latitude must be between -90 and 90 degrees.")
	case b.West < -180 || b.West > 180:
		return invalid("West longitude must be between -180 and 180 degrees.")
	case b.East < -180 || b.East > 180:
		return invalid("East longitude must be between -180 and 180 degrees.")
	}
	return nil
}

func describeValidation(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Field() {
		case "Years":
			msgs = append(msgs, "Please select exactly ONE year.")
		case "Months":
			msgs = append(msgs, "Please select exactly ONE month.")
		case "Folder":
			msgs = append(msgs, "Please select a folder to save the downloaded data.")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed the %s rule", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return strings.Join(msgs, " ")
}

func fieldNames(verrs validator.ValidationErrors) []string {
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Namespace())
	}
	return out
}

// Execute runs a retrieval. Every attempt that passes validation is
// appended to the download log of the request folder.
func (u *RetrieveUseCase) Execute(ctx context.Context, req domain.RetrievalRequest) (resp *RetrievalResponse, err error) {
	if err := u.Validate(req); err != nil {
		return nil, err
	}
	defer func() { u.record(req, err) }()

	zipPath, err := u.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	nc, err := archive.ExtractFirstNetCDF(zipPath, req.Folder)
	if err != nil {
		return nil, err
	}
	if nc == "" {
		return nil, domain.NewClipErrorWithDetails(domain.CodeNoGriddedPayload,
			fmt.Sprintf("archive %s contains no NetCDF file", filepath.Base(zipPath)), nil,
			map[string]any{"archive": zipPath})
	}
	resp = &RetrievalResponse{Archive: zipPath, NetCDF: nc}

	if req.AOI != nil {
		if u.clip == nil {
			return nil, domain.NewClipError(domain.CodeInternal, "clipping is not configured", nil)
		}
		dest := strings.TrimSuffix(nc, filepath.Ext(nc)) + "_clip.nc"
		clipped, err := u.clip.Execute(ctx, ClipRequest{Source: nc, Destination: dest, AOI: *req.AOI})
		if err != nil {
			return nil, err
		}
		resp.Clipped = clipped
	}
	u.log.WithFields(logrus.Fields{
		"variable": req.Variable,
		"model":    req.Model,
		"netcdf":   nc,
		"clipped":  resp.Clipped != nil,
	}).Info("retrieval finished")
	return resp, nil
}

// record appends one JSON line describing the attempt to the folder's
// download log. Failures to log are reported but never fail the request.
func (u *RetrieveUseCase) record(req domain.RetrievalRequest, err error) {
	u.logMu.Lock()
	defer u.logMu.Unlock()

	if mkErr := os.MkdirAll(req.Folder, 0o750); mkErr != nil {
		u.log.WithError(mkErr).Warn("cannot create folder for the download log")
		return
	}
	path := filepath.Join(req.Folder, DownloadLogName)
	//nolint:gosec // G304: the log lives in the validated request folder.
	f, openErr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if openErr != nil {
		u.log.WithError(openErr).Warn("cannot open the download log")
		return
	}
	defer func() { _ = f.Close() }()

	entry := logrus.New()
	entry.Out = f
	entry.Formatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	fields := logrus.Fields{
		"status":   "success",
		"variable": req.Variable,
		"model":    req.Model,
		"level":    req.Level,
		"type":     req.Type,
		"years":    req.Years,
		"months":   req.Months,
		"folder":   req.Folder,
	}
	if err != nil {
		fields["status"] = "failed"
		fields["error"] = err.Error()
		fields["code"] = string(domain.CodeOf(err))
	}
	entry.WithFields(fields).Info("download")
}
