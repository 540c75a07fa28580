package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/cams-clip/internal/domain"
)

type member struct {
	name string
	body string
	zstd bool
}

func writeZip(t *testing.T, path string, members ...member) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	w := zip.NewWriter(f)
	w.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	for _, m := range members {
		method := zip.Deflate
		if m.zstd {
			method = zstd.ZipMethodWinZip
		}
		mw, err := w.CreateHeader(&zip.FileHeader{Name: m.name, Method: method})
		require.NoError(t, err)
		_, err = io.WriteString(mw, m.body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func TestExtractFirstNetCDF(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "no2_ensemble_2021_03.zip")
	writeZip(t, zipPath,
		member{name: "README.txt", body: "licence"},
		member{name: "data/cams.eaq.vra.ENSa.no2.l0.2021-03.nc", body: "CDF\x01first"},
		member{name: "data/second.nc", body: "CDF\x01second"},
	)

	out := filepath.Join(dir, "out")
	got, err := ExtractFirstNetCDF(zipPath, out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "data", "cams.eaq.vra.ENSa.no2.l0.2021-03.nc"), got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "CDF\x01first", string(data))
	assert.FileExists(t, filepath.Join(out, "README.txt"))
	assert.FileExists(t, filepath.Join(out, "data", "second.nc"))
}

func TestExtractFirstNetCDF_DefaultsToArchiveDir(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "a.zip")
	writeZip(t, zipPath, member{name: "grid.nc", body: "x"})

	got, err := ExtractFirstNetCDF(zipPath, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "grid.nc"), got)
}

func TestExtractFirstNetCDF_Zstd(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "z.zip")
	writeZip(t, zipPath, member{name: "grid.nc", body: "CDF\x02zstd member", zstd: true})

	got, err := ExtractFirstNetCDF(zipPath, dir)
	require.NoError(t, err)
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "CDF\x02zstd member", string(data))
}

func TestExtractFirstNetCDF_NoNetCDF(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "empty.zip")
	writeZip(t, zipPath, member{name: "notes.txt", body: "nothing here"})

	got, err := ExtractFirstNetCDF(zipPath, dir)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtractFirstNetCDF_ZipSlip(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "evil.zip")
	writeZip(t, zipPath,
		member{name: "ok.nc", body: "x"},
		member{name: "../../escape.nc", body: "x"},
	)

	out := filepath.Join(dir, "out")
	_, err := ExtractFirstNetCDF(zipPath, out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
	_, statErr := os.Stat(filepath.Join(out, "ok.nc"))
	assert.True(t, os.IsNotExist(statErr), "nothing is extracted from a rejected archive")
}

func TestExtractFirstNetCDF_Missing(t *testing.T) {
	_, err := ExtractFirstNetCDF(filepath.Join(t.TempDir(), "missing.zip"), "")
	assert.True(t, errors.Is(err, domain.ErrArchiveNotFound))
}

func retrievalRequest(folder string) domain.RetrievalRequest {
	return domain.RetrievalRequest{
		Variable: "nitrogen_dioxide",
		Model:    "ensemble",
		Level:    "0",
		Type:     domain.ValidatedReanalysis,
		Years:    []string{"2021"},
		Months:   []string{"03"},
		Folder:   folder,
	}
}

func TestLocalStore_Fetch(t *testing.T) {
	mirror, folder := t.TempDir(), filepath.Join(t.TempDir(), "downloads")
	req := retrievalRequest(folder)
	writeZip(t, filepath.Join(mirror, req.ArchiveName()), member{name: "grid.nc", body: "x"})

	s := NewLocalStore(mirror, quietLogger())
	got, err := s.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(folder, "nitrogen_dioxide_ensemble_2021_03.zip"), got)

	entries, err := os.ReadDir(folder)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// A second fetch reuses the copy.
	require.NoError(t, os.Remove(filepath.Join(mirror, req.ArchiveName())))
	again, err := s.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestLocalStore_FetchMissing(t *testing.T) {
	req := retrievalRequest(t.TempDir())
	_, err := NewLocalStore(t.TempDir(), quietLogger()).Fetch(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDownloadFailed))
}

func TestLocalStore_FetchCancelled(t *testing.T) {
	mirror, folder := t.TempDir(), t.TempDir()
	req := retrievalRequest(folder)
	writeZip(t, filepath.Join(mirror, req.ArchiveName()), member{name: "grid.nc", body: "x"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalStore(mirror, quietLogger()).Fetch(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	entries, err := os.ReadDir(folder)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
