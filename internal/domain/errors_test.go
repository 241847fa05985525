package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Format(t *testing.T) {
	base := errors.New("connection refused")

	assert.Equal(t, "[storage] load catalog: connection refused", StorageError("load catalog", base).Error())
	assert.Equal(t, "[validation] dealer id is required", ValidationError("dealer id is required", nil).Error())
}

func TestTypeOf_UnwrapsChain(t *testing.T) {
	base := errors.New("no rows")
	wrapped := fmt.Errorf("preview: %w", NotFoundError("batch", base))

	assert.Equal(t, ErrorTypeNotFound, TypeOf(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, ErrorType(""), TypeOf(base))
}
