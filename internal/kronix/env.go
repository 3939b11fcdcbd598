package kronix

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvState holds the process environment and working directory captured
// before a scoped override, so both can be reverted on every exit path.
type EnvState struct {
	environ []string
	wd      string
	done    bool
}

// EnterEnv applies overrides on top of the current process environment and,
// when dir is non-empty, switches the working directory to it. dir must
// exist. The returned state restores everything; callers defer Restore
// immediately.
func EnterEnv(overrides map[string]string, dir string) (*EnvState, error) {
	st := &EnvState{environ: os.Environ()}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("cannot determine working directory: %w", err)
	}
	st.wd = wd

	for k, v := range overrides {
		if err := os.Setenv(k, v); err != nil {
			st.Restore()
			return nil, fmt.Errorf("cannot set %s: %w", k, err)
		}
	}

	if dir != "" {
		resolved, err := filepath.Abs(dir)
		if err != nil {
			st.Restore()
			return nil, err
		}
		fi, err := os.Stat(resolved)
		if err != nil {
			st.Restore()
			return nil, fmt.Errorf("sandbox directory: %w", err)
		}
		if !fi.IsDir() {
			st.Restore()
			return nil, fmt.Errorf("sandbox directory %s: not a directory", resolved)
		}
		if err := os.Chdir(resolved); err != nil {
			st.Restore()
			return nil, fmt.Errorf("sandbox directory: %w", err)
		}
	}
	return st, nil
}

// Restore reverts the environment and working directory to their captured
// state. It is idempotent; later calls are no-ops.
func (s *EnvState) Restore() error {
	if s == nil || s.done {
		return nil
	}
	s.done = true

	// Full reset: overrides applied after capture and any variables the
	// wrapped code set itself are both reverted.
	os.Clearenv()
	var firstErr error
	for _, kv := range s.environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := os.Chdir(s.wd); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
