package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")

	// ErrValidation is matched by every ValidationError and ValidationErrors value.
	ErrValidation = errors.New("validation failed")
	// ErrConcurrencyConflict signals that a concurrent writer won the race at commit time.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrForbidden is returned when the actor may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrPersistence marks infrastructure failures (database, cache, queue).
	ErrPersistence = errors.New("persistence failure")
)

// ValidationError describes a single invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ValidationErrors aggregates field errors produced by explicit Validate functions.
type ValidationErrors []ValidationError

// Add appends a field error.
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// Err returns nil when no errors were collected.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) hold.
func (v ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// Fields maps field names to their first message, for inline form rendering.
func (v ValidationErrors) Fields() map[string]string {
	out := make(map[string]string, len(v))
	for _, e := range v {
		if _, ok := out[e.Field]; !ok {
			out[e.Field] = e.Message
		}
	}
	return out
}

// Invalid builds a single-field validation error.
func Invalid(field, message string) error {
	return ValidationErrors{{Field: field, Message: message}}
}

// PersistenceError wraps infrastructure failures.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPersistence) hold.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Persistence wraps err unless it already belongs to the domain taxonomy.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrPersistence) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// Conflict wraps ErrConcurrencyConflict with context.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConcurrencyConflict, fmt.Sprintf(format, args...))
}
