package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorWrapsUnknown(t *testing.T) {
	err := FromError(stdErrors.New("boom"))
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
}

func TestCloneKeepsCode(t *testing.T) {
	err := Clone(ErrConflict, "already enrolled")
	assert.Equal(t, "already enrolled", err.Message)
	assert.True(t, stdErrors.Is(err, ErrConflict))
	assert.False(t, stdErrors.Is(err, ErrNotFound))
}

func TestHasCodeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("issue certificate: %w", Clone(ErrNotFound, "course missing"))
	assert.True(t, HasCode(wrapped, ErrNotFound))
	assert.False(t, HasCode(wrapped, ErrConflict))
	assert.False(t, HasCode(nil, ErrConflict))
}
