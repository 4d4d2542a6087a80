package database

import (
	"errors"
	"fmt"
)

// Common database errors that can be checked using errors.Is().
var (
	// ErrNotConnected is returned when no healthy connection is available.
	ErrNotConnected = errors.New("database not connected")

	// ErrNotFound is returned when a record is not found in the database.
	ErrNotFound = errors.New("record not found")

	// ErrQueryFailed is returned when a query execution fails.
	ErrQueryFailed = errors.New("query execution failed")

	// ErrMultipleResults is returned when a query that expects a single result returns multiple.
	ErrMultipleResults = errors.New("multiple results found when one was expected")
)

// DBError represents a database error with additional context.
type DBError struct {
	// The underlying error, usually one of the sentinels above wrapping the
	// driver's error.
	err error

	// What was being done when the error occurred.
	context string

	// The query that was being executed, if any.
	query string
}

// NewDBError creates a new DBError with the given error and context.
func NewDBError(err error, context string) *DBError {
	return &DBError{err: err, context: context}
}

// WithQuery adds query information to the error.
func (e *DBError) WithQuery(query string) *DBError {
	e.query = query
	return e
}

// Error returns the error message.
func (e *DBError) Error() string {
	msg := e.context
	if e.query != "" {
		msg = fmt.Sprintf("%s (query: %s)", msg, e.query)
	}
	if e.err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *DBError) Unwrap() error {
	return e.err
}

// queryError wraps a driver error as an ErrQueryFailed DBError.
func queryError(err error, query string) error {
	return NewDBError(fmt.Errorf("%w: %w", ErrQueryFailed, err), "query execution failed").WithQuery(query)
}
