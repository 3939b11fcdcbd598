package kronix

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS tracked_paths (
	key  TEXT    NOT NULL,
	seq  INTEGER NOT NULL,
	path TEXT    NOT NULL,
	PRIMARY KEY (key, seq)
);
`

// Store is the durable key -> ordered-path-list attribution table. It is
// safe for concurrent use within one process and holds a file lock against
// other processes.
type Store struct {
	mu       sync.Mutex
	conn     *sqlite.Conn
	lockFile *os.File
}

// OpenStore opens (creating if necessary) the attribution database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	lockFile, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot create store lock: %w", err)
	}
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("store is locked by another process: %w", err)
	}

	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("cannot open store %s: %w", path, err)
	}
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode = wal;", nil); err != nil {
		conn.Close()
		lockFile.Close()
		return nil, err
	}
	if err := sqlitex.ExecuteScript(conn, storeSchema, nil); err != nil {
		conn.Close()
		lockFile.Close()
		return nil, fmt.Errorf("cannot initialize store schema: %w", err)
	}
	return &Store{conn: conn, lockFile: lockFile}, nil
}

// Close releases the database and the inter-process lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.conn.Close()
	unix.Flock(int(s.lockFile.Fd()), unix.LOCK_UN)
	if cerr := s.lockFile.Close(); err == nil {
		err = cerr
	}
	return err
}

// Append adds paths to the end of key's list, preserving order.
func (s *Store) Append(key string, paths []string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer sqlitex.Save(s.conn)(&err)

	next, err := s.nextSeq(key)
	if err != nil {
		return err
	}
	for i, p := range paths {
		err = sqlitex.Execute(s.conn,
			`INSERT INTO tracked_paths (key, seq, path) VALUES (:key, :seq, :path);`,
			&sqlitex.ExecOptions{Named: map[string]any{
				":key":  key,
				":seq":  next + int64(i),
				":path": p,
			}})
		if err != nil {
			return fmt.Errorf("append to %q: %w", key, err)
		}
	}
	return nil
}

// Set replaces key's list wholesale.
func (s *Store) Set(key string, paths []string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer sqlitex.Save(s.conn)(&err)

	if err := s.deleteLocked(key); err != nil {
		return err
	}
	for i, p := range paths {
		err = sqlitex.Execute(s.conn,
			`INSERT INTO tracked_paths (key, seq, path) VALUES (:key, :seq, :path);`,
			&sqlitex.ExecOptions{Named: map[string]any{
				":key":  key,
				":seq":  int64(i),
				":path": p,
			}})
		if err != nil {
			return fmt.Errorf("set %q: %w", key, err)
		}
	}
	return nil
}

// Get returns key's path list in insertion order; a missing key yields an
// empty list.
func (s *Store) Get(key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var paths []string
	err := sqlitex.Execute(s.conn,
		`SELECT path FROM tracked_paths WHERE key = :key ORDER BY seq;`,
		&sqlitex.ExecOptions{
			Named: map[string]any{":key": key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				paths = append(paths, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return paths, nil
}

// Delete removes key and its list.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(key)
}

func (s *Store) deleteLocked(key string) error {
	err := sqlitex.Execute(s.conn,
		`DELETE FROM tracked_paths WHERE key = :key;`,
		&sqlitex.ExecOptions{Named: map[string]any{":key": key}})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Keys lists every tracked key in sorted order.
func (s *Store) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	err := sqlitex.Execute(s.conn,
		`SELECT DISTINCT key FROM tracked_paths ORDER BY key;`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				keys = append(keys, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

func (s *Store) nextSeq(key string) (int64, error) {
	var next int64
	err := sqlitex.Execute(s.conn,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM tracked_paths WHERE key = :key;`,
		&sqlitex.ExecOptions{
			Named: map[string]any{":key": key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				next = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("next seq for %q: %w", key, err)
	}
	return next, nil
}
