package database

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUnsupportedModule is returned for modules without an entity table.
	ErrUnsupportedModule = errors.New("unsupported module")
)
