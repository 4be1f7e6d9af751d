// Package errors defines the error taxonomy of the content store.
//
// Every failure category that callers must distinguish is a Kind carried by
// *Error. Drivers translate native errors (Postgres SQLSTATE codes, DuckDB
// error types) into a Kind once, at the storage boundary, so no caller ever
// has to match on error text.
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Kinds
// ============================================================================

// Kind classifies an error.
type Kind int

const (
	// KindUnknown is any error that was not classified.
	KindUnknown Kind = iota

	// KindTransactionFailure is any failure inside the write-path
	// transaction. The transaction has been rolled back.
	KindTransactionFailure

	// KindConstraintViolation is a duplicate (advisor, exact hash) detected
	// by the store's unique index, typically under a race.
	KindConstraintViolation

	// KindSegmentExists is returned when a storage segment is created twice.
	KindSegmentExists

	// KindArchivalWriteFailure is a failed cold-tier write for one record.
	KindArchivalWriteFailure

	// KindCacheFailure is any cache backend failure.
	KindCacheFailure
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "Unknown"
	case KindTransactionFailure:
		return "TransactionFailure"
	case KindConstraintViolation:
		return "ConstraintViolation"
	case KindSegmentExists:
		return "SegmentExists"
	case KindArchivalWriteFailure:
		return "ArchivalWriteFailure"
	case KindCacheFailure:
		return "CacheFailure"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ============================================================================
// Tagged error
// ============================================================================

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")

	// ErrNoSegment is returned when a record's creation time falls outside
	// every storage segment.
	ErrNoSegment = errors.New("no segment for timestamp")

	// ErrDuplicate is the cause carried by a constraint violation on the
	// (advisor, exact hash) index.
	ErrDuplicate = errors.New("duplicate detected concurrently")

	ErrCacheMiss = errors.New("cache miss")
	ErrClosed    = errors.New("closed")

	// ErrConflict is returned when a transaction kept losing write-write
	// conflicts after every retry.
	ErrConflict = errors.New("write conflict")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConstraintViolation returns true if err reports a duplicate exact hash
// rejected by the store.
func IsConstraintViolation(err error) bool {
	return KindOf(err) == KindConstraintViolation || errors.Is(err, ErrDuplicate)
}

// IsTransactionFailure returns true if err is a rolled-back write.
func IsTransactionFailure(err error) bool {
	return KindOf(err) == KindTransactionFailure
}

// IsSegmentExists returns true if err reports an already existing segment.
func IsSegmentExists(err error) bool {
	return KindOf(err) == KindSegmentExists
}

// IsArchivalWriteFailure returns true if err is a failed cold-tier write.
func IsArchivalWriteFailure(err error) bool {
	return KindOf(err) == KindArchivalWriteFailure
}

// IsCacheFailure returns true if err came from the cache backend.
func IsCacheFailure(err error) bool {
	return KindOf(err) == KindCacheFailure
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// IsRequestPathFailure returns true for the only kinds that may reach a
// request-path caller: rolled-back transactions and constraint violations.
func IsRequestPathFailure(err error) bool {
	switch KindOf(err) {
	case KindTransactionFailure, KindConstraintViolation:
		return true
	}
	return false
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewInvalidInput creates an invalid-input error for a request field.
func NewInvalidInput(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidInput)
}

// NewValidation creates a configuration validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
