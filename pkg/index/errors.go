package index

import "errors"

var (
	// ErrDuplicateKey is returned when inserting a duplicate key in a unique index
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrKeyNotFound is returned when a key is not found
	ErrKeyNotFound = errors.New("key not found")

	// ErrIndexRequired is returned when a geospatial query finds no spatial index
	ErrIndexRequired = errors.New("index required")
)
