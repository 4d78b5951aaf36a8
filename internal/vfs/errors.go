package vfs

import "errors"

var (
	// ErrNotFound is returned when a path exists neither in the overlay nor on
	// the real filesystem (or has been tombstoned).
	ErrNotFound = errors.New("path not found")

	// ErrOutOfScope is returned when a path would resolve outside the sandbox
	// root. Escapes are rejected, never clamped.
	ErrOutOfScope = errors.New("path escapes sandbox root")

	// ErrConflict is returned by Commit when a real file targeted by an
	// overlay change has diverged from the state captured at the overlay base.
	// The real filesystem and the overlay are both left untouched.
	ErrConflict = errors.New("real filesystem changed since overlay base")

	// ErrIsDirectory is returned when a file operation targets a directory.
	ErrIsDirectory = errors.New("path is a directory")
)
