package kronix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*Tracker, *Store) {
	t.Helper()
	store, _ := openTestStore(t)
	return NewTracker(store), store
}

func TestTrackerRecordsAddedPaths(t *testing.T) {
	tr, store := newTestTracker(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), "present before")

	require.NoError(t, tr.Start("nasm:install", dir))
	writeFile(t, filepath.Join(dir, "a.txt"), "added during")
	added, err := tr.Stop("nasm:install")
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, added)

	stored, err := store.Get("nasm:install")
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, stored)
}

func TestTrackerRecordsNestedTree(t *testing.T) {
	tr, store := newTestTracker(t)
	dir := t.TempDir()

	require.NoError(t, tr.Start("gcc:install:1", dir))
	writeFile(t, filepath.Join(dir, "sub", "dir", "file"), "x")
	added, err := tr.Stop("gcc:install:1")
	require.NoError(t, err)
	require.Equal(t, []string{"sub", "sub/dir", "sub/dir/file"}, added)

	stored, err := store.Get("gcc:install:1")
	require.NoError(t, err)
	require.Equal(t, added, stored)
}

func TestTrackerEmptySpanRecordsNothing(t *testing.T) {
	tr, store := newTestTracker(t)
	dir := t.TempDir()

	require.NoError(t, tr.Start("gdb:install", dir))
	added, err := tr.Stop("gdb:install")
	require.NoError(t, err)
	require.Empty(t, added)

	keys, err := store.Keys()
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestTrackerRejectsMutation(t *testing.T) {
	tr, store := newTestTracker(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), "original")

	require.NoError(t, tr.Start("qemu:install", dir))
	writeFile(t, filepath.Join(dir, "a.txt"), "added")
	writeFile(t, filepath.Join(dir, "b.txt"), "clobbered")

	_, err := tr.Stop("qemu:install")
	var merr *MutationError
	require.ErrorAs(t, err, &merr)
	require.Equal(t, "b.txt", merr.Path)

	// nothing gets recorded on a corrupted span, not even a.txt
	stored, err := store.Get("qemu:install")
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestTrackerRejectsRemoval(t *testing.T) {
	tr, _ := newTestTracker(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), "original")

	require.NoError(t, tr.Start("qemu:install", dir))
	require.NoError(t, os.Remove(filepath.Join(dir, "b.txt")))

	_, err := tr.Stop("qemu:install")
	var merr *MutationError
	require.ErrorAs(t, err, &merr)
	require.Equal(t, "b.txt", merr.Path)
}

func TestTrackerSpanLifecycle(t *testing.T) {
	tr, _ := newTestTracker(t)
	dir := t.TempDir()

	require.NoError(t, tr.Start("k", dir))
	require.Error(t, tr.Start("k", dir))

	_, err := tr.Stop("unopened")
	require.Error(t, err)

	tr.Discard("k")
	_, err = tr.Stop("k")
	require.Error(t, err)

	// discarded spans can be reopened
	require.NoError(t, tr.Start("k", dir))
	_, err = tr.Stop("k")
	require.NoError(t, err)
}
