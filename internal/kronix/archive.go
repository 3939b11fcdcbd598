package kronix

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

// extractArchive unpacks an archive into dest, trying tar-family formats
// first and falling back to zip. When the archive holds exactly one
// top-level directory its contents are hoisted so dest contains the tree
// directly.
func extractArchive(path, dest string) error {
	debugf("decompressing %s to %s\n", path, dest)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	tarErr := extractTarArchive(path, dest)
	if tarErr == nil {
		return nil
	}
	zipErr := extractZip(path, dest)
	if zipErr == nil {
		return nil
	}
	return fmt.Errorf("extract %s: %w", filepath.Base(path), errors.Join(ErrUnknownArchive, tarErr, zipErr))
}

// tarReader returns a reader decompressing f according to the archive name.
// The returned closer releases the decompressor, not the file.
func tarReader(f *os.File, name string) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gzip reader for %s: %w", name, err)
		}
		return gz, func() { gz.Close() }, nil
	case strings.HasSuffix(name, ".tar.bz2"):
		return bzip2.NewReader(f), func() {}, nil
	case strings.HasSuffix(name, ".tar.xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create xz reader for %s: %w", name, err)
		}
		return xr, func() {}, nil
	case strings.HasSuffix(name, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd reader for %s: %w", name, err)
		}
		return zr, func() { zr.Close() }, nil
	case strings.HasSuffix(name, ".tar"):
		return f, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported tar suffix: %s", name)
	}
}

// tarStripPrefix scans the archive and, when everything lives under a single
// top-level directory, returns that prefix (with trailing slash).
func tarStripPrefix(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	r, closer, err := tarReader(f, path)
	if err != nil {
		return "", err
	}
	defer closer()

	tops := make(map[string]bool) // top segment -> is a directory
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("error reading tar header in %s: %w", path, err)
		}
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		name = strings.TrimSuffix(name, "/")
		if name == "" || name == "." {
			continue
		}
		if idx := strings.Index(name, "/"); idx != -1 {
			tops[name[:idx]] = true
		} else if _, ok := tops[name]; !ok {
			tops[name] = hdr.Typeflag == tar.TypeDir
		}
	}
	if len(tops) == 1 {
		for top, isDir := range tops {
			if isDir {
				return top + "/", nil
			}
		}
	}
	return "", nil
}

func extractTarArchive(path, dest string) error {
	prefix, err := tarStripPrefix(path)
	if err != nil {
		return err
	}
	if prefix != "" {
		debugf("detected single top-level directory %s; hoisting\n", prefix)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer f.Close()
	r, closer, err := tarReader(f, path)
	if err != nil {
		return err
	}
	defer closer()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar header in %s: %w", path, err)
		}

		// Skip PAX headers (global or per-file)
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return fmt.Errorf("error skipping extended header data in %s: %w", path, err)
			}
			continue
		}

		targetName := strings.TrimPrefix(hdr.Name, "./")
		if prefix != "" {
			// The hoisted top directory itself reduces to nothing
			if strings.TrimSuffix(targetName, "/") == strings.TrimSuffix(prefix, "/") {
				continue
			}
			targetName = strings.TrimPrefix(targetName, prefix)
		}
		if targetName == "" || targetName == "." {
			continue
		}

		targetPath := filepath.Join(dest, targetName)
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", targetPath, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", targetPath, err)
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
				debugf("failed to set times for %s: %v (continuing)\n", targetPath, err)
			}
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, targetPath); err != nil && !os.IsExist(err) {
				return fmt.Errorf("failed to create symlink %s -> %s: %w", targetPath, hdr.Linkname, err)
			}
			atime := unix.Timeval{Sec: hdr.AccessTime.Unix(), Usec: int64(hdr.AccessTime.Nanosecond() / 1000)}
			mtime := unix.Timeval{Sec: hdr.ModTime.Unix(), Usec: int64(hdr.ModTime.Nanosecond() / 1000)}
			if err := unix.Lutimes(targetPath, []unix.Timeval{atime, mtime}); err != nil {
				debugf("failed to set times for symlink %s: %v (continuing)\n", targetPath, err)
			}
		default:
			debugf("skipping unsupported tar entry type %c: %s\n", hdr.Typeflag, hdr.Name)
		}
	}
	return nil
}

// zipStripPrefix mirrors tarStripPrefix for zip archives.
func zipStripPrefix(files []*zip.File) string {
	tops := make(map[string]bool)
	for _, f := range files {
		name := strings.TrimSuffix(f.Name, "/")
		if name == "" {
			continue
		}
		if idx := strings.Index(name, "/"); idx != -1 {
			tops[name[:idx]] = true
		} else if _, ok := tops[name]; !ok {
			tops[name] = f.FileInfo().IsDir()
		}
	}
	if len(tops) == 1 {
		for top, isDir := range tops {
			if isDir {
				return top + "/"
			}
		}
	}
	return ""
}

func extractZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open zip %s: %w", src, err)
	}
	defer r.Close()

	prefix := zipStripPrefix(r.File)
	for _, f := range r.File {
		name := f.Name
		if prefix != "" && strings.HasPrefix(name, prefix) {
			name = strings.TrimPrefix(name, prefix)
		}
		if name == "" || strings.TrimSuffix(name, "/") == strings.TrimSuffix(prefix, "/") {
			continue
		}

		fpath := filepath.Join(dest, name)
		// Guard against zip-slip
		if !strings.HasPrefix(fpath, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("%s: illegal file path", fpath)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, f.Mode()); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", fpath, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", fpath, err)
		}
		outFile, err := os.OpenFile(fpath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
		if err != nil {
			return fmt.Errorf("failed to create file %s: %w", fpath, err)
		}
		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return fmt.Errorf("failed to read zip entry %s: %w", f.Name, err)
		}
		_, err = io.Copy(outFile, rc)
		rc.Close()
		outFile.Close()
		if err != nil {
			return fmt.Errorf("failed to write file %s: %w", fpath, err)
		}
	}
	return nil
}
