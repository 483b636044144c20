package graphmap

import "errors"

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("graphmap: invalid configuration")

	// ErrClosed is returned when operating on a closed engine.
	ErrClosed = errors.New("graphmap: engine is closed")

	// ErrNoSchema is returned when ingesting against an empty registry.
	ErrNoSchema = errors.New("graphmap: no node types registered")
)
