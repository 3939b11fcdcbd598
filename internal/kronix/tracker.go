package kronix

import (
	"fmt"
	"sync"
)

type trackedSpan struct {
	dir  string
	snap *FsEntry
}

// Tracker attributes filesystem writes to named build phases. A span is
// opened over a directory before a phase runs and closed after it; every
// path that appeared during the span is appended to the durable manifest
// under the span's key. Changes to pre-existing paths are treated as
// corruption and reported instead of recorded.
type Tracker struct {
	mu    sync.Mutex
	store *Store
	open  map[string]*trackedSpan
}

func NewTracker(store *Store) *Tracker {
	return &Tracker{store: store, open: make(map[string]*trackedSpan)}
}

// Start snapshots dir and opens a span under key.
func (t *Tracker) Start(key, dir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.open[key]; ok {
		return fmt.Errorf("span %q is already open", key)
	}
	snap, err := Snapshot(dir)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", dir, err)
	}
	t.open[key] = &trackedSpan{dir: dir, snap: snap}
	return nil
}

// Stop closes the span under key, records every path added since Start in
// the manifest, and returns the recorded paths. If any path that existed at
// Start was modified or removed during the span, Stop records nothing and
// returns a MutationError naming the first such path.
func (t *Tracker) Stop(key string) ([]string, error) {
	t.mu.Lock()
	span, ok := t.open[key]
	if ok {
		delete(t.open, key)
	}
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("span %q is not open", key)
	}

	after, err := Snapshot(span.dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", span.dir, err)
	}

	var added []string
	for _, ev := range Diff(span.snap, after) {
		if ev.Old != nil {
			return nil, &MutationError{Path: ev.Old.Path}
		}
		added = append(added, ev.New.Path)
	}
	if len(added) == 0 {
		return nil, nil
	}
	if err := t.store.Append(key, added); err != nil {
		return nil, err
	}
	return added, nil
}

// Discard drops an open span without diffing or recording.
func (t *Tracker) Discard(key string) {
	t.mu.Lock()
	delete(t.open, key)
	t.mu.Unlock()
}
