package core

import (
	"errors"
)

var (
	// Configuration errors are raised while loading a pipeline and indicate a
	// content or programming error. They are never retried.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrArgument is returned when the caller supplied arguments that can never succeed.
	ErrArgument = errors.New("invalid argument")
	// ErrDuplicateResource is returned when two shader stages declare the same
	// set/binding with different descriptor types.
	ErrDuplicateResource = errors.New("conflicting duplicate resource declaration")
	// ErrResourceNotFound is returned by operations that require a resource
	// name to resolve. Pure lookups report misses with a sentinel instead.
	ErrResourceNotFound = errors.New("resource not found")
	ErrRange            = errors.New("index out of declared range")
	// ErrStateMisuse is returned when an object is used in a state that does
	// not allow the operation (binding before load, resetting a pending list).
	ErrStateMisuse = errors.New("invalid object state")
	// ErrSynchronization wraps device-reported submission and wait failures.
	ErrSynchronization = errors.New("device synchronization failure")
	ErrDeviceLost      = errors.New("device lost")
	// ErrTimeout is reported by a bounded fence wait that expired. It is not a
	// completion and not a device failure.
	ErrTimeout = errors.New("wait timed out")
)
