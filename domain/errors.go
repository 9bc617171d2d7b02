package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks missing or malformed input. Login treats it as a
	// declined authentication.
	ErrValidation = errors.New("validation failed")
	// ErrNotLinked is returned when no link exists for the requested owner
	// and provider.
	ErrNotLinked = errors.New("social account not linked")
	// ErrAlreadyLinked is the recoverable outcome of an association that lost
	// a uniqueness race or targets an identity owned by someone else.
	ErrAlreadyLinked = errors.New("social account already linked")
	// ErrUpstreamProfile marks a provider that connected but failed to
	// return a profile.
	ErrUpstreamProfile = errors.New("failed to fetch upstream profile")
	// ErrConfiguration marks invalid startup configuration.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrPersistence marks a storage failure.
	ErrPersistence = errors.New("persistence failure")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PersistenceError wraps a storage failure on save or delete.
type PersistenceError struct {
	Op         string
	Constraint string
	// Conflict is set when a uniqueness constraint rejected the write.
	Conflict bool
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s social account: constraint %s: %v", e.Op, e.Constraint, e.Err)
	}
	return fmt.Sprintf("%s social account: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// NewConflictError builds the PersistenceError for a unique violation.
func NewConflictError(op, constraint string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Constraint: constraint, Conflict: true, Err: err}
}

// IsConflict reports whether err carries a uniqueness violation.
func IsConflict(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) && pe.Conflict
}

// UpstreamProfileError carries the provider whose profile could not be read.
type UpstreamProfileError struct {
	Provider string
	Err      error
}

func (e *UpstreamProfileError) Error() string {
	return fmt.Sprintf("fetch profile from %s: %v", e.Provider, e.Err)
}

func (e *UpstreamProfileError) Unwrap() error { return e.Err }

func (e *UpstreamProfileError) Is(target error) bool { return target == ErrUpstreamProfile }

// ConfigurationError reports a missing or invalid setting.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
