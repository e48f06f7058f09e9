/*
errors.go - Store-level error types

PURPOSE:
  Errors every Store implementation returns, so domain packages can test
  for them with errors.Is regardless of the backing database.

SEE ALSO:
  - store.go: Contracts that return these errors
  - sales/errors.go: Domain errors built on top
*/
package generic

import (
	"errors"
	"fmt"
	"regexp"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when no record matches a key.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey is returned when adding a record whose id already
	// exists. Expected for retried writes.
	ErrDuplicateKey = errors.New("duplicate record key")

	// ErrConditionFailed is returned when a conditional update would
	// break its guard (a decrement below zero).
	ErrConditionFailed = errors.New("conditional update rejected")

	// ErrNoSession is returned when an operation runs without a user.
	ErrNoSession = errors.New("no user session")

	// ErrInvalidQuery is returned for unsupported operators or empty
	// field names.
	ErrInvalidQuery = errors.New("invalid query")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ConditionError carries the value that made a conditional decrement fail.
type ConditionError struct {
	Collection Collection
	Key        string
	Field      string
	Current    int64
	Requested  int64
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("cannot decrement %s.%s for %q by %d: current value %d",
		e.Collection, e.Field, e.Key, e.Requested, e.Current)
}

func (e *ConditionError) Unwrap() error {
	return ErrConditionFailed
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidField reports whether name can be used as a record field. Stores
// embed field names in JSON paths, so only identifiers are accepted.
func ValidField(name string) bool {
	return fieldPattern.MatchString(name)
}

// ValidateQuery checks the arguments shared by every Query implementation.
func ValidateQuery(field string, op Op) error {
	if !ValidField(field) {
		return fmt.Errorf("%w: field %q", ErrInvalidQuery, field)
	}
	if !op.Valid() {
		return fmt.Errorf("%w: operator %q", ErrInvalidQuery, op)
	}
	return nil
}
