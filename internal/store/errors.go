package store

import "errors"

var (
	// ErrUnknownKind is returned when a CRUD or bulk verb names a Kind it
	// does not accept. It is raised before any transaction is opened.
	ErrUnknownKind = errors.New("unknown entity kind")
	// ErrInvalidColumn is returned for mappings or filters naming columns the
	// kind does not have, or missing a required column.
	ErrInvalidColumn = errors.New("invalid column")
	// ErrNotFound is returned when an addressed entity does not exist.
	ErrNotFound = errors.New("not found")
)
