package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("boom")
	err := NewErrorWithID("CapabilityStore.Save", KindStorage, "abc123", cause)

	assert.Equal(t, KindStorage, KindOf(err))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "abc123")
	assert.Contains(t, err.Error(), "boom")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError("op", KindTimeout, errors.New("x"))))
	assert.True(t, IsRetryable(NewError("op", KindBackendTool, errors.New("x"))))
	assert.False(t, IsRetryable(NewError("op", KindInvalidParams, errors.New("x"))))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(ErrCapabilityNotFound))
	assert.True(t, IsNotFound(NewError("op", KindNotFound, errors.New("x"))))
	assert.False(t, IsNotFound(ErrPoolExhausted))
}
