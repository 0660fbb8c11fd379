package store

import (
	"errors"
	"fmt"

	"github.com/tumblehead/pipedb/internal/jsonv"
	"github.com/tumblehead/pipedb/internal/uri"
)

var (
	// ErrInvalidURI is returned when a URI is malformed, or wild or root where
	// a single document is required.
	ErrInvalidURI = uri.ErrInvalid
	// ErrAlreadyExists is returned by Insert and Rename on a destination
	// collision.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotFound is returned when the addressed document is missing.
	ErrNotFound = errors.New("not found")
	// ErrIO wraps disk and network failures.
	ErrIO = errors.New("i/o failure")
	// ErrMalformedData is returned when stored bytes are not valid JSON.
	ErrMalformedData = jsonv.ErrMalformed
	// ErrPartialRename is returned when a non-atomic rename copied the
	// destination but failed to remove the source. Both documents exist.
	ErrPartialRename = errors.New("partial rename")
)

func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// NotFound returns ErrNotFound annotated with u.
func NotFound(u uri.URI) error {
	return wrapf(ErrNotFound, "%s", u)
}

// AlreadyExists returns ErrAlreadyExists annotated with u.
func AlreadyExists(u uri.URI) error {
	return wrapf(ErrAlreadyExists, "%s", u)
}

// IOError wraps err with ErrIO.
func IOError(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrIO, op, err)
}
