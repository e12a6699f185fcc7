package wfdb

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// ExtractError reports a failed archive extraction: unsupported format,
// corrupt archive, or I/O trouble. Partial output is never rolled back.
type ExtractError struct {
	Archive string
	Err     error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", filepath.Base(e.Archive), e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

var errUnsupportedFormat = errors.New("unsupported archive format")

// isTarArchive reports whether name belongs to the tar family.
func isTarArchive(name string) bool {
	return strings.HasSuffix(name, ".tar") ||
		strings.HasSuffix(name, ".tgz") ||
		strings.Contains(name, ".tar.")
}

// Extract unpacks archivePath into destDir, dispatching on the filename
// suffix. Archive top-level directory names are preserved; the tree locator
// depends on them. On failure, whatever was already written stays on disk —
// the builder removes stale trees before re-extracting.
func Extract(archivePath, destDir string) error {
	name := filepath.Base(archivePath)
	switch {
	case isTarArchive(name):
		if err := extractTar(archivePath, destDir); err != nil {
			return &ExtractError{Archive: archivePath, Err: err}
		}
	case strings.HasSuffix(name, ".zip"):
		if err := extractZip(archivePath, destDir); err != nil {
			return &ExtractError{Archive: archivePath, Err: err}
		}
	default:
		return &ExtractError{Archive: archivePath, Err: errUnsupportedFormat}
	}
	return nil
}

// securePath joins name onto dest and rejects entries escaping it.
func securePath(dest, name string) (string, error) {
	target := filepath.Join(dest, name)
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}
	return target, nil
}

// extractTar unpacks a tar archive, selecting the decompressor from the
// filename suffix.
func extractTar(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}

	name := filepath.Base(archivePath)
	var r io.Reader = f
	switch {
	case strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader for %s: %w", archivePath, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(name, ".tar.bz2"):
		r = bzip2.NewReader(f)
	case strings.HasSuffix(name, ".tar.xz"):
		xzr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create xz reader for %s: %w", archivePath, err)
		}
		r = xzr
	case strings.HasSuffix(name, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader for %s: %w", archivePath, err)
		}
		defer zr.Close()
		r = zr
	case strings.HasSuffix(name, ".tar"):
		// No compression
	default:
		return fmt.Errorf("unsupported tar compression: %s", name)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar header in %s: %w", archivePath, err)
		}

		// Skip PAX headers (global or per-file)
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return fmt.Errorf("error skipping extended header data in %s: %w", archivePath, err)
			}
			continue
		}

		targetPath, err := securePath(dest, hdr.Name)
		if err != nil {
			return err
		}
		if targetPath == dest {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", targetPath, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", targetPath, err)
			}
			if err := os.Chtimes(targetPath, hdr.AccessTime, hdr.ModTime); err != nil {
				return fmt.Errorf("failed to set times for dir %s: %w", targetPath, err)
			}
			// Restore ownership if running as root
			if os.Geteuid() == 0 {
				_ = os.Chown(targetPath, hdr.Uid, hdr.Gid)
			}
		case tar.TypeReg:
			outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", targetPath, err)
			}
			if _, err := io.Copy(outFile, tr); err != nil {
				outFile.Close()
				return fmt.Errorf("failed to write file %s: %w", targetPath, err)
			}
			outFile.Close()
			if err := os.Chtimes(targetPath, hdr.AccessTime, hdr.ModTime); err != nil {
				return fmt.Errorf("failed to set times for file %s: %w", targetPath, err)
			}
			if os.Geteuid() == 0 {
				_ = os.Chown(targetPath, hdr.Uid, hdr.Gid)
			}
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, targetPath); err != nil && !os.IsExist(err) {
				return fmt.Errorf("failed to create symlink %s -> %s: %w", targetPath, hdr.Linkname, err)
			}
			if os.Geteuid() == 0 {
				_ = unix.Lchown(targetPath, hdr.Uid, hdr.Gid)
			}
			// Symlink timestamps need Lutimes; failures here are not critical.
			atime := unix.Timeval{
				Sec:  hdr.AccessTime.Unix(),
				Usec: int64(hdr.AccessTime.Nanosecond() / 1000),
			}
			mtime := unix.Timeval{
				Sec:  hdr.ModTime.Unix(),
				Usec: int64(hdr.ModTime.Nanosecond() / 1000),
			}
			if err := unix.Lutimes(targetPath, []unix.Timeval{atime, mtime}); err != nil {
				debugf("Warning: failed to set times for symlink %s: %v (continuing)\n", targetPath, err)
			}
		case tar.TypeLink:
			linkSource, err := securePath(dest, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := os.Link(linkSource, targetPath); err != nil {
				return fmt.Errorf("failed to create hard link %s -> %s: %w", targetPath, hdr.Linkname, err)
			}
		default:
			return fmt.Errorf("unsupported tar entry type %c: %s", hdr.Typeflag, hdr.Name)
		}
	}

	return nil
}

// extractZip unpacks a zip archive into dest.
func extractZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		fpath, err := securePath(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, os.ModePerm); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), os.ModePerm); err != nil {
			return err
		}

		outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return err
		}

		_, err = io.Copy(outFile, rc)

		// Close files inside the loop to avoid holding too many file descriptors.
		outFile.Close()
		rc.Close()

		if err != nil {
			return err
		}
	}
	return nil
}
