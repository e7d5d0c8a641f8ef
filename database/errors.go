package database

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"
	"modernc.org/sqlite"
)

var (
	// ErrUnsupported is returned when the dialect cannot perform an operation.
	ErrUnsupported = errors.New("not supported by dialect")
	// ErrInvalidIdentifier is returned for table or column names that are not plain identifiers.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// ConnectionError is returned when the store cannot be reached or refuses the credentials.
type ConnectionError struct {
	Driver string
	Err    error
}

// Error returns the formatted error message for ConnectionError.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s database: %v", e.Driver, e.Err)
}

// Unwrap returns the underlying error for ConnectionError.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// QueryError is returned when a single statement fails. Code carries the store's
// error code: the SQLSTATE for postgres, the extended result code for sqlite.
type QueryError struct {
	Code    string
	Message string
	Query   string
	Err     error
}

// Error returns the formatted error message for QueryError.
func (e *QueryError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("query failed (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("query failed: %s", e.Message)
}

// Unwrap returns the underlying error for QueryError.
func (e *QueryError) Unwrap() error {
	return e.Err
}

func newQueryError(query string, err error) error {
	if err == nil {
		return nil
	}

	var queryErr *QueryError
	if errors.As(err, &queryErr) {
		return err
	}

	qe := &QueryError{Message: err.Error(), Query: query, Err: err}

	var pqErr *pq.Error
	var sqliteErr *sqlite.Error
	switch {
	case errors.As(err, &pqErr):
		qe.Code = string(pqErr.Code)
		qe.Message = pqErr.Message
	case errors.As(err, &sqliteErr):
		qe.Code = strconv.Itoa(sqliteErr.Code())
	}

	return qe
}

// ErrorCode returns the store error code carried by err, or an empty string.
func ErrorCode(err error) string {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}
