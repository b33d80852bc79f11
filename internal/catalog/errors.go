package catalog

import (
	"errors"
	"io/fs"
)

var (
	// ErrNoSnapshot reports that no snapshot file exists yet.
	ErrNoSnapshot = errors.New("snapshot not found")
	// ErrCorruptSnapshot reports a snapshot that exists but cannot be trusted.
	ErrCorruptSnapshot = errors.New("snapshot is corrupt")
	// ErrInvalidArgument reports a contract violation by the caller.
	ErrInvalidArgument = errors.New("invalid argument")
)

type notFoundError struct {
	err error
}

func (e *notFoundError) Error() string { return ErrNoSnapshot.Error() + ": " + e.err.Error() }

func (e *notFoundError) Is(target error) bool {
	return target == ErrNoSnapshot || target == fs.ErrNotExist
}

func (e *notFoundError) Unwrap() error { return e.err }
