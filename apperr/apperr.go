// Package apperr defines the error kinds surfaced by the mnemo core.
// Handlers at the transport boundary map these to HTTP status codes;
// everything below the boundary wraps causes with %w and lets the kind
// travel up unchanged.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed input: missing required fields or
// invalid enum values. Mapped to 400 and never retried.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidation builds a ValidationError from field/message pairs.
func NewValidation(fields ...FieldError) *ValidationError {
	return &ValidationError{Fields: fields}
}

// NotFoundError reports a missing target after tenant filtering. Mapped
// to 404. Capsule audience failures deliberately surface as not-found to
// avoid existence disclosure.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// AuthorizationError reports a tenant mismatch or audience failure on
// endpoints that do not hide existence. Mapped to 403.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return "authorization failed: " + e.Message
}

// ConflictError reports a unique-constraint violation or a circular
// depends_on edge. Mapped to 409; Attribute names the conflicting input.
type ConflictError struct {
	Attribute string
	Message   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Attribute, e.Message)
}

// RateLimitError reports an over-quota request. Mapped to 429 with a
// Retry-After header.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSeconds)
}

// StorageError reports a transient store failure. Any open transaction
// has been rolled back by the time it surfaces. Mapped to 500; clients
// may retry with backoff.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError for operation op. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
