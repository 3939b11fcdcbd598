package kronix

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

type tarEntry struct {
	name string
	body string
	mode int64
	dir  bool
	link string
}

func writeTarEntries(t *testing.T, w io.Writer, entries []tarEntry) {
	t.Helper()
	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: e.mode}
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
		}
		switch {
		case e.dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		case e.link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.link
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
}

func buildTarGz(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	gz := gzip.NewWriter(f)
	writeTarEntries(t, gz, entries)
	require.NoError(t, gz.Close())
}

func buildTarXz(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	xw, err := xz.NewWriter(f)
	require.NoError(t, err)
	writeTarEntries(t, xw, entries)
	require.NoError(t, xw.Close())
}

func TestExtractTarHoistsSingleRoot(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "demo-1.0.tar.gz")
	buildTarGz(t, archive, []tarEntry{
		{name: "demo-1.0/", dir: true},
		{name: "demo-1.0/configure", body: "#!/bin/sh\n", mode: 0o755},
		{name: "demo-1.0/src/", dir: true},
		{name: "demo-1.0/src/main.c", body: "int main(void) { return 0; }\n"},
		{name: "demo-1.0/latest", link: "configure"},
	})

	dest := filepath.Join(dir, "out")
	require.NoError(t, extractArchive(archive, dest))

	fi, err := os.Stat(filepath.Join(dest, "configure"))
	require.NoError(t, err)
	require.NotZero(t, fi.Mode()&0o111)

	data, err := os.ReadFile(filepath.Join(dest, "src", "main.c"))
	require.NoError(t, err)
	require.Contains(t, string(data), "int main")

	target, err := os.Readlink(filepath.Join(dest, "latest"))
	require.NoError(t, err)
	require.Equal(t, "configure", target)

	// the wrapper directory itself must not survive
	_, err = os.Stat(filepath.Join(dest, "demo-1.0"))
	require.Error(t, err)
}

func TestExtractTarKeepsMultipleRoots(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "multi.tar.gz")
	buildTarGz(t, archive, []tarEntry{
		{name: "a/", dir: true},
		{name: "a/x.txt", body: "x"},
		{name: "b/", dir: true},
		{name: "b/y.txt", body: "y"},
	})

	dest := filepath.Join(dir, "out")
	require.NoError(t, extractArchive(archive, dest))
	require.FileExists(t, filepath.Join(dest, "a", "x.txt"))
	require.FileExists(t, filepath.Join(dest, "b", "y.txt"))
}

func TestExtractTarXz(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "demo-2.0.tar.xz")
	buildTarXz(t, archive, []tarEntry{
		{name: "demo-2.0/", dir: true},
		{name: "demo-2.0/VERSION", body: "2.0\n"},
	})

	dest := filepath.Join(dir, "out")
	require.NoError(t, extractArchive(archive, dest))
	data, err := os.ReadFile(filepath.Join(dest, "VERSION"))
	require.NoError(t, err)
	require.Equal(t, "2.0\n", string(data))
}

func TestExtractZipFallback(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "demo-3.0.zip")
	f, err := os.Create(archive)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("demo-3.0/readme.md")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	dest := filepath.Join(dir, "out")
	require.NoError(t, extractArchive(archive, dest))
	data, err := os.ReadFile(filepath.Join(dest, "readme.md"))
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(data))
}

func TestExtractUnknownArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "blob.dat")
	require.NoError(t, os.WriteFile(archive, []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}, 0o644))

	err := extractArchive(archive, filepath.Join(dir, "out"))
	require.ErrorIs(t, err, ErrUnknownArchive)
}
