// Package archive unpacks downloaded reanalysis archives and locates
// archives for retrieval requests.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"go.ngs.io/cams-clip/internal/domain"
)

// ExtractFirstNetCDF unpacks every member of the zip archive into destDir
// (the archive's directory when empty) and returns the path of the first
// .nc member in archive order. An archive without one yields "" and a nil
// error. Members that would land outside destDir are rejected before
// anything is written.
func ExtractFirstNetCDF(zipPath, destDir string) (string, error) {
	if destDir == "" {
		destDir = filepath.Dir(zipPath)
	}
	r, err := zip.OpenReader(zipPath)
	// A reader returned alongside an error flags insecure member names;
	// memberPath rejects those below.
	if err != nil && r == nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", domain.NewClipErrorWithDetails(domain.CodeArchiveNotFound,
				fmt.Sprintf("archive %s does not exist", filepath.Base(zipPath)), err,
				map[string]any{"path": zipPath})
		}
		return "", fmt.Errorf("failed to open archive %s: %w", zipPath, err)
	}
	defer func() { _ = r.Close() }()
	r.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	targets := make([]string, len(r.File))
	for i, f := range r.File {
		target, err := memberPath(destDir, f.Name)
		if err != nil {
			return "", err
		}
		targets[i] = target
	}

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", destDir, err)
	}
	first := ""
	for i, f := range r.File {
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(targets[i], 0o750); err != nil {
				return "", fmt.Errorf("failed to create %s: %w", targets[i], err)
			}
			continue
		}
		if err := extractMember(f, targets[i]); err != nil {
			return "", err
		}
		if first == "" && strings.HasSuffix(f.Name, ".nc") {
			first = targets[i]
		}
	}
	return first, nil
}

// memberPath joins a member name onto destDir, refusing names that
// resolve outside it.
func memberPath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
		return "", domain.NewClipErrorWithDetails(domain.CodeInvalidRequest,
			fmt.Sprintf("archive member %q escapes the extraction directory", name), err,
			map[string]any{"member": name})
	}
	return target, nil
}

func extractMember(f *zip.File, target string) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open member %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	//nolint:gosec // G304: target is checked by memberPath.
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	//nolint:gosec // G110: archives come from the operator's own downloads.
	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return nil
}
