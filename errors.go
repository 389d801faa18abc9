package crccache

import "errors"

var (
	ErrClosed             = errors.New("crccache: closed")
	ErrAlreadyInitialized = errors.New("crccache: already initialized")
	ErrTypeMismatch       = errors.New("crccache: value type does not match namespace")
	ErrUnknownNamespace   = errors.New("crccache: unknown namespace")
	ErrLocked             = errors.New("crccache: disk directory in use by another process")
)
