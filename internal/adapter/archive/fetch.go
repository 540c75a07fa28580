package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"go.ngs.io/cams-clip/internal/domain"
)

// Fetcher obtains the archive for a retrieval request and returns the
// path of the zip file inside req.Folder.
type Fetcher interface {
	Fetch(ctx context.Context, req domain.RetrievalRequest) (string, error)
}

// LocalStore serves archives that were already downloaded into a mirror
// directory. It copies the matching archive into the request folder.
type LocalStore struct {
	dir string
	log logrus.FieldLogger
}

// NewLocalStore creates a LocalStore reading from dir.
func NewLocalStore(dir string, log logrus.FieldLogger) *LocalStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LocalStore{dir: dir, log: log}
}

// Fetch implements Fetcher. An archive already present in the request
// folder is reused.
func (s *LocalStore) Fetch(ctx context.Context, req domain.RetrievalRequest) (string, error) {
	name := req.ArchiveName()
	dest := filepath.Join(req.Folder, name)
	log := s.log.WithFields(logrus.Fields{"archive": name, "folder": req.Folder})

	if _, err := os.Stat(dest); err == nil {
		log.Debug("archive already in folder")
		return dest, nil
	}

	src := filepath.Join(s.dir, name)
	//nolint:gosec // G304: name is built from validated request fields.
	in, err := os.Open(src)
	if err != nil {
		code := domain.CodeDownloadFailed
		msg := fmt.Sprintf("archive %s is not available in %s", name, s.dir)
		if !errors.Is(err, os.ErrNotExist) {
			msg = fmt.Sprintf("failed to read archive %s", name)
		}
		return "", domain.NewClipErrorWithDetails(code, msg, err, map[string]any{"archive": name})
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(req.Folder, 0o750); err != nil {
		return "", fmt.Errorf("failed to create folder %s: %w", req.Folder, err)
	}
	tmp := filepath.Join(req.Folder, "."+name+"."+uuid.NewString()+".tmp")
	if err := copyFile(ctx, tmp, in); err != nil {
		_ = os.Remove(tmp)
		return "", domain.NewClipError(domain.CodeDownloadFailed, fmt.Sprintf("failed to copy archive %s", name), err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to move archive into place: %w", err)
	}
	log.Info("archive fetched")
	return dest, nil
}

// ctxReader stops a copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func copyFile(ctx context.Context, path string, r io.Reader) (err error) {
	//nolint:gosec // G304: temporary file inside the request folder.
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, ctxReader{ctx: ctx, r: r})
	return err
}
