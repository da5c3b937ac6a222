package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested key is absent from a store.
var ErrNotFound = errors.New("key not found")

// ValidationError reports input that does not satisfy the cache entry
// shape: a wrongly typed field, a missing required field, or parameters
// that cannot be canonically encoded.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid entry: %s", e.Reason)
	}
	return fmt.Sprintf("invalid entry: field %q: %s", e.Field, e.Reason)
}

// ConflictError reports a strict-merge collision: the same key already
// holds a different value, so the merge cannot proceed safely.
type ConflictError struct {
	Key string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting values for key %q", e.Key)
}
