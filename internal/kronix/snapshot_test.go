package kronix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustSnapshot(t *testing.T, dir string) *FsEntry {
	t.Helper()
	snap, err := Snapshot(dir)
	require.NoError(t, err)
	return snap
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiffIsReflexive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "sub", "b.txt"), "b")

	snap := mustSnapshot(t, dir)
	require.Empty(t, Diff(snap, snap))
	require.Empty(t, Diff(snap, mustSnapshot(t, dir)))
}

func TestDiffDetectsAddition(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	before := mustSnapshot(t, dir)

	writeFile(t, filepath.Join(dir, "new.txt"), "n")
	events := Diff(before, mustSnapshot(t, dir))

	require.Len(t, events, 1)
	require.Nil(t, events[0].Old)
	require.Equal(t, "new.txt", events[0].New.Path)
}

func TestDiffDetectsRemoval(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	before := mustSnapshot(t, dir)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.txt")))
	events := Diff(before, mustSnapshot(t, dir))

	require.Len(t, events, 1)
	require.Nil(t, events[0].New)
	require.Equal(t, "a.txt", events[0].Old.Path)
}

func TestDiffDetectsContentChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	before := mustSnapshot(t, dir)

	// same size, different bytes: only the hash differs
	writeFile(t, filepath.Join(dir, "a.txt"), "b")
	events := Diff(before, mustSnapshot(t, dir))

	require.Len(t, events, 1)
	require.NotNil(t, events[0].Old)
	require.NotNil(t, events[0].New)
	require.Equal(t, "a.txt", events[0].New.Path)
	require.NotEqual(t, events[0].Old.Hash, events[0].New.Hash)
}

func TestDiffDetectsModeChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sh")
	writeFile(t, path, "#!/bin/sh\n")
	before := mustSnapshot(t, dir)

	require.NoError(t, os.Chmod(path, 0o755))
	events := Diff(before, mustSnapshot(t, dir))
	require.Len(t, events, 1)
	require.Equal(t, "run.sh", events[0].New.Path)
}

func TestDiffDetectsDirModeChange(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	before := mustSnapshot(t, dir)

	require.NoError(t, os.Chmod(sub, 0o700))
	events := Diff(before, mustSnapshot(t, dir))
	require.Len(t, events, 1)
	require.Equal(t, "sub", events[0].New.Path)
	require.True(t, events[0].New.IsDir())
}

func TestDiffWalksAddedSubtree(t *testing.T) {
	dir := t.TempDir()
	before := mustSnapshot(t, dir)

	writeFile(t, filepath.Join(dir, "sub", "deep", "f.txt"), "f")
	writeFile(t, filepath.Join(dir, "sub", "g.txt"), "g")
	events := Diff(before, mustSnapshot(t, dir))

	var paths []string
	for _, ev := range events {
		require.Nil(t, ev.Old)
		paths = append(paths, ev.New.Path)
	}
	// parents precede children, siblings sorted
	require.Equal(t, []string{"sub", "sub/deep", "sub/deep/f.txt", "sub/g.txt"}, paths)
}

func TestDiffFileReplacedByDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thing")
	writeFile(t, path, "file")
	before := mustSnapshot(t, dir)

	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))
	events := Diff(before, mustSnapshot(t, dir))

	require.Len(t, events, 1)
	require.False(t, events[0].Old.IsDir())
	require.True(t, events[0].New.IsDir())
}

func TestSnapshotHashesSymlinkTarget(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	require.NoError(t, os.Symlink("a.txt", filepath.Join(dir, "ln")))
	before := mustSnapshot(t, dir)

	// retargeting the link changes its hash even though the name persists
	require.NoError(t, os.Remove(filepath.Join(dir, "ln")))
	writeFile(t, filepath.Join(dir, "b.txt"), "b")
	require.NoError(t, os.Symlink("b.txt", filepath.Join(dir, "ln")))

	events := Diff(before, mustSnapshot(t, dir))
	var changed []string
	for _, ev := range events {
		if ev.Old != nil && ev.New != nil {
			changed = append(changed, ev.New.Path)
		}
	}
	require.Contains(t, changed, "ln")
}
