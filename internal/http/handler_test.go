package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/cams-clip/internal/adapter/archive"
	"go.ngs.io/cams-clip/internal/adapter/store/catalog"
	"go.ngs.io/cams-clip/internal/adapter/store/classic"
	"go.ngs.io/cams-clip/internal/adapter/vector"
	"go.ngs.io/cams-clip/internal/domain"
	"go.ngs.io/cams-clip/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

// writeGrid writes a 5x5 one degree grid over 40..44N, 0..4E.
func writeGrid(t *testing.T) string {
	t.Helper()
	lats := []float64{44, 43, 42, 41, 40}
	lons := []float64{0, 1, 2, 3, 4}
	no2 := make([]float64, 25)
	for i := range no2 {
		no2[i] = float64(i)
	}
	ds := &domain.Dataset{
		Dims: []domain.Dim{{Name: "latitude", Len: 5}, {Name: "longitude", Len: 5}},
		Vars: []*domain.Variable{
			{VarInfo: domain.VarInfo{Name: "latitude", Dims: []string{"latitude"}, Type: domain.Float32}, Data: lats},
			{VarInfo: domain.VarInfo{Name: "longitude", Dims: []string{"longitude"}, Type: domain.Float32}, Data: lons},
			{VarInfo: domain.VarInfo{Name: "no2", Dims: []string{"latitude", "longitude"}, Type: domain.Float32}, Data: no2},
		},
		Format: domain.FormatClassic,
	}
	path := filepath.Join(t.TempDir(), "grid.nc")
	require.NoError(t, classic.New().Write(path, ds))
	return path
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	log := quietLogger()
	backend := classic.New()
	clipUC, err := usecase.NewClipUseCase(backend, backend, vector.NewLoader(log), 2, log)
	require.NoError(t, err)
	cat, err := catalog.Load()
	require.NoError(t, err)
	retrieveUC := usecase.NewRetrieveUseCase(cat, archive.NewLocalStore(t.TempDir(), log), clipUC, log)
	h := NewHandler(clipUC, usecase.NewAnalysisUseCase(backend, log), retrieveUC, cat, log)
	return SetupRouter(h, RouterOptions{MaxBodyBytes: 1 << 20, Log: log})
}

func do(t *testing.T, r http.Handler, method, target string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestHealthCheck(t *testing.T) {
	w, body := do(t, newTestRouter(t), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	_, err := uuid.Parse(w.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestRequestIDIsPropagated(t *testing.T) {
	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", id)
	w := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(w, req)
	assert.Equal(t, id, w.Header().Get("X-Request-ID"))
}

func TestGetCatalog(t *testing.T) {
	r := newTestRouter(t)

	w, body := do(t, r, http.MethodGet, "/v1/catalog", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["variables"], 19)
	assert.Len(t, body["models"], 12)
	bounds := body["bounds"].(map[string]any)
	assert.Equal(t, 70.0, bounds["north"])
	assert.Equal(t, -30.0, bounds["west"])

	w, body = do(t, r, http.MethodGet, "/v1/catalog/availability?variable=nitrogen_dioxide&model=gemaq&type=validated_reanalysis", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"2019", "2020", "2021", "2022"}, body["years"])

	w, body = do(t, r, http.MethodGet, "/v1/catalog/availability?variable=nitrogen_dioxide", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(domain.CodeInvalidRequest), body["code"])
}

func TestPostClip(t *testing.T) {
	r := newTestRouter(t)
	src := writeGrid(t)
	dest := filepath.Join(t.TempDir(), "clip.nc")

	w, body := do(t, r, http.MethodPost, "/v1/clip", usecase.ClipRequest{
		Source:      src,
		Destination: dest,
		AOI:         domain.BoxAOI(domain.BoundingBox{North: 43, South: 41, East: 3, West: 1}),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, dest, body["output"])
	lat := body["latitude"].(map[string]any)
	assert.Equal(t, 3.0, lat["count"])
	assert.FileExists(t, dest)
}

func TestPostClip_Errors(t *testing.T) {
	r := newTestRouter(t)
	src := writeGrid(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   domain.ErrorCode
	}{
		{
			name: "empty clip",
			body: usecase.ClipRequest{Source: src, Destination: filepath.Join(t.TempDir(), "a.nc"),
				AOI: domain.BoxAOI(domain.BoundingBox{North: 10, South: 20, East: 5, West: 0})},
			status: http.StatusBadRequest,
			code:   domain.CodeEmptyClip,
		},
		{
			name: "unsupported geometry file",
			body: usecase.ClipRequest{Source: src, Destination: filepath.Join(t.TempDir(), "b.nc"),
				AOI: domain.PolygonAOI(filepath.Join(t.TempDir(), "aoi.kml"), "")},
			status: http.StatusUnprocessableEntity,
			code:   domain.CodeUnsupportedGeometry,
		},
		{
			name:   "missing destination",
			body:   usecase.ClipRequest{Source: src, AOI: domain.BoxAOI(domain.BoundingBox{North: 1})},
			status: http.StatusBadRequest,
			code:   domain.CodeInvalidRequest,
		},
		{
			name:   "malformed body",
			body:   []int{1, 2},
			status: http.StatusBadRequest,
			code:   domain.CodeInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(t, r, http.MethodPost, "/v1/clip", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, string(tt.code), body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestPostClipBatch(t *testing.T) {
	r := newTestRouter(t)
	src := writeGrid(t)
	dir := t.TempDir()

	w, body := do(t, r, http.MethodPost, "/v1/clip/batch", BatchRequest{Items: []usecase.ClipRequest{
		{Source: src, Destination: filepath.Join(dir, "a.nc"), AOI: domain.BoxAOI(domain.BoundingBox{North: 44, South: 42, East: 2, West: 0})},
		{Source: src, Destination: filepath.Join(dir, "b.nc"), AOI: domain.BoxAOI(domain.BoundingBox{North: 42, South: 40, East: 4, West: 2})},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	outcomes := body["outcomes"].([]any)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, usecase.BatchOK, o.(map[string]any)["status"])
	}

	w, _ = do(t, r, http.MethodPost, "/v1/clip/batch", BatchRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalysisEndpoints(t *testing.T) {
	r := newTestRouter(t)
	src := writeGrid(t)

	w, body := do(t, r, http.MethodPost, "/v1/analysis/summary", usecase.SummaryRequest{Path: src})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stats := body["stats"].(map[string]any)
	assert.InDelta(t, 12, stats["mean"], 1e-9)
	assert.InDelta(t, 24, stats["max"], 1e-9)

	w, body = do(t, r, http.MethodPost, "/v1/analysis/bivariate", usecase.BivariateRequest{Path: src, Primary: "no2", Secondary: "no2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	corr := body["correlation"].(map[string]any)
	assert.InDelta(t, 1, corr["r"], 1e-9)

	w, body = do(t, r, http.MethodGet, "/v1/datasets/inspect?path="+url.QueryEscape(src), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []any{"no2"}, body["data_vars"])

	w, body = do(t, r, http.MethodGet, "/v1/datasets/probe?variable=no2&lat=43.5&lon=0.5&path="+url.QueryEscape(src), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	// Mean of the cell corners 0, 1, 5 and 6.
	assert.InDelta(t, 3, body["value"], 1e-9)

	w, _ = do(t, r, http.MethodGet, "/v1/datasets/probe?variable=no2&lat=north&lon=0&path="+url.QueryEscape(src), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostRetrieval_DownloadFailed(t *testing.T) {
	r := newTestRouter(t)
	folder := t.TempDir()

	w, body := do(t, r, http.MethodPost, "/v1/retrievals", domain.RetrievalRequest{
		Variable:   "nitrogen_dioxide",
		Model:      "ensemble",
		Level:      "0",
		Type:       domain.ValidatedReanalysis,
		Years:      []string{"2021"},
		Months:     []string{"03"},
		Folder:     folder,
		AgreeTerms: true,
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, string(domain.CodeDownloadFailed), body["code"])

	w, body = do(t, r, http.MethodPost, "/v1/retrievals", domain.RetrievalRequest{Folder: folder})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(domain.CodeInvalidRequest), body["code"])
}
