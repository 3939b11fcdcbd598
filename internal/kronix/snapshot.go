package kronix

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"lukechampine.com/blake3"
)

const snapshotHashBuf = 256 * 1024

// FsEntry is one node of a directory snapshot: a directory with named
// children, or a leaf carrying size, mode bits and a content hash.
type FsEntry struct {
	Path     string
	Mode     fs.FileMode
	Size     int64
	Hash     string
	Children map[string]*FsEntry
}

func (e *FsEntry) IsDir() bool { return e.Children != nil }

// hashFile digests file contents incrementally with blake3.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New(32, nil)
	buf := make([]byte, snapshotHashBuf)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Snapshot captures the full tree rooted at dir. Entry paths are relative
// to dir. Symlinks are recorded by the hash of their target, not followed.
func Snapshot(dir string) (*FsEntry, error) {
	return snapshotAt(dir, ".")
}

func snapshotAt(root, rel string) (*FsEntry, error) {
	full := filepath.Join(root, rel)
	fi, err := os.Lstat(full)
	if err != nil {
		return nil, err
	}
	entry := &FsEntry{Path: rel, Mode: fi.Mode()}
	switch {
	case fi.IsDir():
		entry.Children = make(map[string]*FsEntry)
		listing, err := os.ReadDir(full)
		if err != nil {
			return nil, err
		}
		for _, de := range listing {
			child, err := snapshotAt(root, filepath.Join(rel, de.Name()))
			if err != nil {
				return nil, err
			}
			entry.Children[de.Name()] = child
		}
	case fi.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(full)
		if err != nil {
			return nil, err
		}
		sum := blake3.Sum256([]byte(target))
		entry.Hash = hex.EncodeToString(sum[:])
	case fi.Mode().IsRegular():
		entry.Size = fi.Size()
		entry.Hash, err = hashFile(full)
		if err != nil {
			return nil, err
		}
	default:
		// sockets, fifos, devices: identified by mode alone
	}
	return entry, nil
}

// ChangeEvent pairs the old and new sides of one differing path. A nil Old
// is an addition, a nil New a removal, both set is a modification.
type ChangeEvent struct {
	Old *FsEntry
	New *FsEntry
}

// Diff compares two snapshots level by level and returns one event per
// added, removed or modified path, none for unchanged paths. Events appear
// in a deterministic (sorted) order.
func Diff(oldTree, newTree *FsEntry) []ChangeEvent {
	var events []ChangeEvent
	diffEntries(oldTree, newTree, &events)
	return events
}

func diffEntries(oldE, newE *FsEntry, events *[]ChangeEvent) {
	if oldE.IsDir() != newE.IsDir() {
		*events = append(*events, ChangeEvent{Old: oldE, New: newE})
		return
	}
	if !oldE.IsDir() {
		if oldE.Mode != newE.Mode || oldE.Size != newE.Size || oldE.Hash != newE.Hash {
			*events = append(*events, ChangeEvent{Old: oldE, New: newE})
		}
		return
	}
	if oldE.Mode != newE.Mode {
		*events = append(*events, ChangeEvent{Old: oldE, New: newE})
	}
	for _, name := range unionNames(oldE.Children, newE.Children) {
		o, inOld := oldE.Children[name]
		n, inNew := newE.Children[name]
		switch {
		case inOld && inNew:
			diffEntries(o, n, events)
		case inOld:
			walkEntry(o, func(e *FsEntry) {
				*events = append(*events, ChangeEvent{Old: e})
			})
		default:
			walkEntry(n, func(e *FsEntry) {
				*events = append(*events, ChangeEvent{New: e})
			})
		}
	}
}

// walkEntry visits e and every descendant in sorted order.
func walkEntry(e *FsEntry, visit func(*FsEntry)) {
	visit(e)
	if !e.IsDir() {
		return
	}
	names := make([]string, 0, len(e.Children))
	for name := range e.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		walkEntry(e.Children[name], visit)
	}
}

func unionNames(a, b map[string]*FsEntry) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var names []string
	for name := range a {
		seen[name] = true
		names = append(names, name)
	}
	for name := range b {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
