package kronix

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatchingVersion means a release listing contained no entry
	// conforming to the component's version pattern.
	ErrNoMatchingVersion = errors.New("no matching version in listing")
	// ErrBadSignature means a detached signature was present but did not
	// verify against the archive.
	ErrBadSignature = errors.New("signature verification failed")
	// ErrUnknownArchive means neither tar-family nor zip extraction
	// succeeded.
	ErrUnknownArchive = errors.New("unrecognized archive format")
	// ErrNoSource marks a component with no release source configured.
	ErrNoSource = errors.New("no release source configured")
	// ErrAborted is returned once the user declines to continue past a
	// failed step; subsequent steps short-circuit on it.
	ErrAborted = errors.New("aborted")
	// ErrRecoveredFailures reports an otherwise complete run in which at
	// least one step failed and was skipped.
	ErrRecoveredFailures = errors.New("completed with recovered failures")
)

// MutationError reports a pre-existing path that changed while a tracked
// span was expected to only add files.
type MutationError struct {
	Path string
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("pre-existing path %q changed during tracked span", e.Path)
}
