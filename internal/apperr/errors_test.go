package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_HTTPStatus(t *testing.T) {
	cases := map[*AppError]int{
		Validation("bad amount"):           http.StatusBadRequest,
		Insufficient("not enough"):         http.StatusBadRequest,
		Forbidden("batch:execute"):         http.StatusForbidden,
		NotFound("transaction not found"):  http.StatusNotFound,
		Conflict("already pending"):        http.StatusConflict,
		RateLimited("daily limit"):         http.StatusTooManyRequests,
		Internal("boom", errors.New("db")): http.StatusInternalServerError,
	}

	for appErr, want := range cases {
		assert.Equal(t, want, appErr.HTTPStatus(), appErr.Error())
	}
}

func TestAs(t *testing.T) {
	t.Run("wrapped app error", func(t *testing.T) {
		err := fmt.Errorf("decide: %w", Conflict("transaction is already %s", "approved"))

		appErr, ok := As(err)
		assert.True(t, ok)
		assert.Equal(t, ConflictError, appErr.Code)
		assert.Equal(t, "transaction is already approved", appErr.Message)
		assert.True(t, Is(err, ConflictError))
		assert.Equal(t, http.StatusConflict, StatusOf(err))
	})

	t.Run("plain error", func(t *testing.T) {
		err := errors.New("connection refused")

		_, ok := As(err)
		assert.False(t, ok)
		assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
	})
}

func TestInternal_KeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("failed to create batch operation", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, "failed to create batch operation", err.Message)
}
