package authz

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	assert.Nil(t, Kind(nil))
	assert.Nil(t, Kind(errors.New("plain")))
	assert.Equal(t, ErrValidation, Kind(validationf("op", "bad")))
	assert.Equal(t, ErrAccessDenied, Kind(deniedf("op", "no")))
	assert.Equal(t, ErrConflict, Kind(&ConflictError{ResourceID: "r", Expected: 2}))
	assert.Equal(t, ErrNotShared, Kind(newError("op", ErrNotShared, nil, "x")))
}

func TestStoreError(t *testing.T) {
	assert.NoError(t, storeError("op", nil))

	missing := storeError("get user", fmt.Errorf("user u1: %w", ErrNotFound))
	assert.True(t, errors.Is(missing, ErrNotFound))

	conflict := storeError("upsert", &ConflictError{ResourceID: "r1", Expected: 1})
	assert.True(t, errors.Is(conflict, ErrConflict))
	var ce *ConflictError
	assert.True(t, errors.As(conflict, &ce))

	cause := errors.New("connection reset by peer")
	down := storeError("get user", cause)
	assert.True(t, errors.Is(down, ErrStoreUnavailable))
	assert.True(t, errors.Is(down, cause))
	assert.False(t, errors.Is(down, ErrAccessDenied))
	assert.True(t, IsRetryable(down))
	assert.False(t, IsRetryable(missing))
}

func TestErrorMessage(t *testing.T) {
	err := newError("share_resource", ErrValidation, nil, "cannot share a resource with yourself")
	assert.Equal(t, "share_resource: cannot share a resource with yourself", err.Error())

	err = &Error{Op: "get", Kind: ErrStoreUnavailable, Err: errors.New("timeout")}
	assert.Equal(t, "get: store unavailable: timeout", err.Error())
}
