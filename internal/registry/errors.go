package registry

import "errors"

// Registry errors.
var (
	// ErrPathTaken is returned when a record already exists for the path.
	ErrPathTaken = errors.New("path already registered")

	// ErrNameTaken is returned when a record already uses the plugin name.
	ErrNameTaken = errors.New("name already registered")

	// ErrInvalidRecord is returned when a record lacks a path, name or plugin.
	ErrInvalidRecord = errors.New("invalid record")
)
