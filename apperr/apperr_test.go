package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	err := NewValidation(
		FieldError{Field: "tenant_id", Message: "required"},
		FieldError{Field: "channel", Message: "unknown"},
	)
	assert.Contains(t, err.Error(), "tenant_id: required")
	assert.Contains(t, err.Error(), "channel: unknown")
	assert.True(t, IsValidation(err))
	assert.False(t, IsNotFound(err))
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Resource: "capsule", ID: "cap_1"}
	assert.Equal(t, "capsule cap_1 not found", err.Error())
	assert.True(t, IsNotFound(err))

	noID := &NotFoundError{Resource: "event"}
	assert.Equal(t, "event not found", noID.Error())
}

func TestConflictError(t *testing.T) {
	err := &ConflictError{Attribute: "depends_on", Message: "edge would create a dependency cycle"}
	assert.Contains(t, err.Error(), "depends_on")
	assert.True(t, IsConflict(err))
}

func TestStorageWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Storage("insert event", cause)

	var se *StorageError
	assert.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "insert event")
}

func TestStorageNilPassthrough(t *testing.T) {
	assert.NoError(t, Storage("noop", nil))
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := &NotFoundError{Resource: "chunk", ID: "chk_1"}
	wrapped := fmt.Errorf("loading timeline: %w", inner)
	assert.True(t, IsNotFound(wrapped))
}

func TestRateLimitError(t *testing.T) {
	err := &RateLimitError{RetryAfterSeconds: 12}
	assert.Contains(t, err.Error(), "12s")
}
