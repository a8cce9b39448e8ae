package database

import "errors"

var (
	// ErrDocumentNotFound is returned when a document is not found
	ErrDocumentNotFound = errors.New("document not found")

	// ErrCollectionNotFound is returned when a collection is not found
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists is returned by CreateCollection for a name in use
	ErrCollectionExists = errors.New("collection already exists")

	// ErrIndexNotFound is returned when dropping an unknown index
	ErrIndexNotFound = errors.New("index not found")

	// ErrDatabaseClosed is returned when operating on a closed database
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrCursorExhausted is returned by Next after the last document
	ErrCursorExhausted = errors.New("cursor exhausted")

	// ErrCursorNotFound is returned for unknown or timed out cursor ids
	ErrCursorNotFound = errors.New("cursor not found")

	// ErrNoPersister is returned by Save and Restore without a Persister
	ErrNoPersister = errors.New("no persister configured")
)
