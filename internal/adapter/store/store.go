// Package store opens and persists gridded datasets.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"go.ngs.io/cams-clip/internal/domain"
)

// Opener opens a gridded dataset for reading.
type Opener interface {
	Open(path string) (domain.Source, error)
}

// Writer persists an in-memory dataset to path.
type Writer interface {
	Write(path string, ds *domain.Dataset) error
}

// Backend is a file format implementation.
type Backend interface {
	Opener
	Writer
}

var (
	magicClassic1 = []byte("CDF\x01")
	magicClassic2 = []byte("CDF\x02")
	magicHDF5     = []byte("\x89HDF\r\n\x1a\n")
)

// Sniff reads the leading magic bytes of path.
func Sniff(path string) (domain.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.FormatUnknown, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, len(magicHDF5))
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return domain.FormatUnknown, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, magicClassic1), bytes.HasPrefix(head, magicClassic2):
		return domain.FormatClassic, nil
	case bytes.HasPrefix(head, magicHDF5):
		return domain.FormatNetCDF4, nil
	}
	return domain.FormatUnknown, nil
}

// Auto dispatches to a backend by file format. Reads sniff the file;
// writes follow the dataset's Format.
type Auto struct {
	log      logrus.FieldLogger
	backends map[domain.Format]Backend
	fallback Backend
}

// NewAuto creates an Auto. fallback serves unknown formats and may be nil.
func NewAuto(log logrus.FieldLogger, backends map[domain.Format]Backend, fallback Backend) *Auto {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Auto{log: log, backends: backends, fallback: fallback}
}

func (a *Auto) backend(format domain.Format) (Backend, error) {
	if b, ok := a.backends[format]; ok && b != nil {
		return b, nil
	}
	if a.fallback != nil {
		return a.fallback, nil
	}
	return nil, fmt.Errorf("no backend for %s format", format)
}

// Open implements Opener.
func (a *Auto) Open(path string) (domain.Source, error) {
	format, err := Sniff(path)
	if err != nil {
		return nil, err
	}
	b, err := a.backend(format)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	a.log.WithFields(logrus.Fields{"path": path, "format": format.String()}).Debug("opening dataset")
	return b.Open(path)
}

// Write implements Writer.
func (a *Auto) Write(path string, ds *domain.Dataset) error {
	b, err := a.backend(ds.Format)
	if err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return b.Write(path, ds)
}

// WriteAtomic writes ds to a temporary file beside path and renames it into
// place. On any failure the temporary file is removed and path is left
// untouched.
func WriteAtomic(w Writer, path string, ds *domain.Dataset) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // Output directories are shared.
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp := filepath.Join(dir, "."+base+"."+uuid.NewString()+".tmp")
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if err := w.Write(tmp, ds); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move result into place: %w", err)
	}
	return nil
}
