package manager

import "errors"

// Manager errors. Errors returned by a module's factory or Close method are
// passed through unchanged.
var (
	// ErrInvalidArgument is returned for an empty path or name, or a nil plugin.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyLoaded is returned when the canonical path is already loaded.
	ErrAlreadyLoaded = errors.New("plugin already loaded")

	// ErrNoCandidateType is returned when a module declares no plugin factory.
	ErrNoCandidateType = errors.New("module declares no plugin factory")

	// ErrAmbiguousCandidateType is returned when a module declares more than one plugin factory.
	ErrAmbiguousCandidateType = errors.New("module declares more than one plugin factory")

	// ErrDuplicateName is returned when another loaded plugin already uses the name.
	ErrDuplicateName = errors.New("duplicate plugin name")

	// ErrEmptyName is returned when a plugin reports an empty name.
	ErrEmptyName = errors.New("plugin name cannot be empty")

	// ErrNotFound is returned when no loaded plugin matches.
	ErrNotFound = errors.New("plugin not found")

	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("manager closed")
)
