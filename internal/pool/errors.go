package pool

import (
	"errors"
	"fmt"
)

// Pool manager errors.
var (
	// ErrInvalidName is returned when a database name violates the
	// identifier grammar.
	ErrInvalidName = errors.New("invalid database name")

	// ErrDuplicateName is returned when the owner already has an active
	// database with the requested name.
	ErrDuplicateName = errors.New("database name already exists")

	// ErrDatabaseNotFound is returned when no active database matches.
	ErrDatabaseNotFound = errors.New("database not found")

	// ErrConnection is returned when a handle could not be established
	// after retry. No partial state is left behind.
	ErrConnection = errors.New("connection failed")

	// ErrInvalidOwner is returned when the owner id is empty or unsafe
	// to use as a storage key.
	ErrInvalidOwner = errors.New("invalid owner id")
)

// QueryExecutionError carries the failing statement alongside the driver
// message. For batches, Index is the zero-based position of the failing
// statement.
type QueryExecutionError struct {
	Statement string
	Index     int
	Err       error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("query execution failed at statement %d (%.80q): %v", e.Index, e.Statement, e.Err)
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }
