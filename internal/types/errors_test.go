package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceError(t *testing.T) {
	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := &ServiceError{Op: "encrypt", Message: "request failed", Err: cause}

		assert.Equal(t, "encrypt: request failed: connection refused", err.Error())
		assert.ErrorIs(t, err, cause, "expected ServiceError to unwrap to its cause")
	})

	t.Run("without cause", func(t *testing.T) {
		err := &ServiceError{Op: "decrypt", StatusCode: http.StatusBadGateway, Message: "bad gateway"}
		assert.Equal(t, "decrypt: bad gateway", err.Error())
		assert.Nil(t, errors.Unwrap(err))
	})

	t.Run("errors.As through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("%w: %w", ErrCipherUnavailable, &ServiceError{Op: "encrypt", StatusCode: 500, Message: "internal server error"})

		var svcErr *ServiceError
		assert.True(t, errors.As(wrapped, &svcErr), "expected to find ServiceError in chain")
		assert.Equal(t, 500, svcErr.StatusCode)
		assert.ErrorIs(t, wrapped, ErrCipherUnavailable)
	})
}

func TestConnectionStateString(t *testing.T) {
	tcases := []struct {
		state ConnectionState
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosed, "closed"},
		{ConnectionState(42), "unknown"},
	}

	for _, tc := range tcases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.state.String())
		})
	}
}
