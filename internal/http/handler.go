package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"go.ngs.io/cams-clip/internal/adapter/store/catalog"
	"go.ngs.io/cams-clip/internal/domain"
	"go.ngs.io/cams-clip/internal/usecase"
)

// Handler handles HTTP requests for clipping, analysis and retrieval.
type Handler struct {
	clipUC     *usecase.ClipUseCase
	analysisUC *usecase.AnalysisUseCase
	retrieveUC *usecase.RetrieveUseCase
	catalog    *catalog.Catalog
	log        logrus.FieldLogger
}

// NewHandler creates a new HTTP handler.
func NewHandler(clipUC *usecase.ClipUseCase, analysisUC *usecase.AnalysisUseCase, retrieveUC *usecase.RetrieveUseCase,
	cat *catalog.Catalog, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		clipUC:     clipUC,
		analysisUC: analysisUC,
		retrieveUC: retrieveUC,
		catalog:    cat,
		log:        log,
	}
}

// writeError renders err as {"error", "code"} with the status of its code.
func (h *Handler) writeError(c *gin.Context, err error) {
	var ce *domain.ClipError
	if !errors.As(err, &ce) {
		h.log.WithFields(logrus.Fields{
			"request_id": c.GetString(requestIDKey),
			"path":       c.FullPath(),
		}).WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": domain.CodeInternal})
		return
	}
	body := gin.H{"error": ce.Message, "code": ce.Code}
	if len(ce.Details) > 0 {
		body["details"] = ce.Details
	}
	c.JSON(ce.HTTPStatus(), body)
}

func badRequest(c *gin.Context, format string, args ...any) {
	c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf(format, args...), "code": domain.CodeInvalidRequest})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// GetCatalog handles GET /v1/catalog.
func (h *Handler) GetCatalog(c *gin.Context) {
	first, last := h.catalog.YearSpan()
	c.JSON(http.StatusOK, gin.H{
		"dataset":     h.catalog.Dataset(),
		"variables":   h.catalog.Variables(),
		"models":      h.catalog.Models(),
		"types":       h.catalog.Types(),
		"levels":      h.catalog.Levels(),
		"bounds":      h.catalog.Bounds(),
		"first_year":  first,
		"last_year":   last,
		"default_dir": h.catalog.DefaultDir(),
	})
}

// GetAvailability handles GET /v1/catalog/availability.
func (h *Handler) GetAvailability(c *gin.Context) {
	variable, model, dataType := c.Query("variable"), c.Query("model"), c.Query("type")
	if variable == "" || model == "" || dataType == "" {
		badRequest(c, "variable, model and type parameters are required")
		return
	}
	if _, ok := h.catalog.Variable(variable); !ok {
		badRequest(c, "unknown variable %q", variable)
		return
	}
	years := h.catalog.Availability(variable, model, dataType)
	if years == nil {
		years = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"variable": variable,
		"model":    model,
		"type":     dataType,
		"years":    years,
	})
}

// PostClip handles POST /v1/clip.
func (h *Handler) PostClip(c *gin.Context) {
	var req usecase.ClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}
	resp, err := h.clipUC.Execute(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// BatchRequest is the body of POST /v1/clip/batch.
type BatchRequest struct {
	Items []usecase.ClipRequest `json:"items"`
}

// PostClipBatch handles POST /v1/clip/batch. Per-item failures are reported
// in the outcomes with status 200; only a rejected batch is an error.
func (h *Handler) PostClipBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}
	if len(req.Items) == 0 {
		badRequest(c, "items must not be empty")
		return
	}
	outcomes, err := h.clipUC.ExecuteBatch(c.Request.Context(), req.Items)
	if outcomes == nil && err != nil {
		h.writeError(c, err)
		return
	}
	body := gin.H{"outcomes": outcomes}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// PostSummary handles POST /v1/analysis/summary.
func (h *Handler) PostSummary(c *gin.Context) {
	var req usecase.SummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}
	resp, err := h.analysisUC.Summary(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PostBivariate handles POST /v1/analysis/bivariate.
func (h *Handler) PostBivariate(c *gin.Context) {
	var req usecase.BivariateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}
	resp, err := h.analysisUC.Bivariate(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetInspect handles GET /v1/datasets/inspect.
func (h *Handler) GetInspect(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		badRequest(c, "path parameter is required")
		return
	}
	resp, err := h.analysisUC.Inspect(c.Request.Context(), path)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetProbe handles GET /v1/datasets/probe.
func (h *Handler) GetProbe(c *gin.Context) {
	req := usecase.ProbeRequest{Path: c.Query("path"), Variable: c.Query("variable")}
	if req.Path == "" {
		badRequest(c, "path parameter is required")
		return
	}

	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		badRequest(c, "invalid latitude: %v", err)
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		badRequest(c, "invalid longitude: %v", err)
		return
	}
	req.Lat, req.Lon = lat, lon

	if s := c.Query("index"); s != "" {
		idx, err := strconv.Atoi(s)
		if err != nil {
			badRequest(c, "invalid index: %v", err)
			return
		}
		req.Index = idx
	}

	resp, err := h.analysisUC.Probe(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PostRetrieval handles POST /v1/retrievals.
func (h *Handler) PostRetrieval(c *gin.Context) {
	var req domain.RetrievalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}
	resp, err := h.retrieveUC.Execute(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
