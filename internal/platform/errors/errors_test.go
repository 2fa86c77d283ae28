package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTypes_HTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		typ    ErrorType
		status int
	}{
		{"validation", ValidationError("bad"), TypeValidation, http.StatusBadRequest},
		{"not found", NotFoundError("missing"), TypeNotFound, http.StatusNotFound},
		{"rate limited", RateLimitedError("slow down"), TypeRateLimited, http.StatusTooManyRequests},
		{"unavailable", UnavailableError("stopped", nil), TypeUnavailable, http.StatusServiceUnavailable},
		{"internal", InternalError("boom", nil), TypeInternal, http.StatusInternalServerError},
		{"unknown type", &Error{Type: "weird"}, "weird", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
		})
	}
}

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("relay stopped")
	err := UnavailableError("cannot accept connections", cause)

	assert.Equal(t, "unavailable: cannot accept connections: relay stopped", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := ValidationError("invalid input")
	assert.Equal(t, "validation: invalid input", bare.Error())
	assert.NotContains(t, bare.Error(), "<nil>")
}

func TestWithContext(t *testing.T) {
	err := RateLimitedError("too many connections").
		WithContext("reason", "per_ip_limit").
		WithContext("ip", "10.0.0.1")

	assert.Equal(t, "per_ip_limit", err.Context["reason"])
	assert.Equal(t, "10.0.0.1", err.Context["ip"])

	nilCtx := &Error{Type: TypeInternal}
	nilCtx.WithContext("k", "v")
	assert.Equal(t, "v", nilCtx.Context["k"])
}

func TestToResponse(t *testing.T) {
	resp := RateLimitedError("too many connections").WithContext("reason", "rate_limit").ToResponse()

	assert.Equal(t, "too many connections", resp.Error)
	assert.Equal(t, TypeRateLimited, resp.Type)
	assert.Equal(t, map[string]any{"reason": "rate_limit"}, resp.Context)
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))

	original := ValidationError("bad")
	assert.Same(t, original, AsStructuredError(original))

	wrapped := fmt.Errorf("handler: %w", original)
	assert.Same(t, original, AsStructuredError(wrapped))

	plain := errors.New("plain")
	converted := AsStructuredError(plain)
	require.NotNil(t, converted)
	assert.Equal(t, TypeInternal, converted.Type)
	assert.Equal(t, "internal server error", converted.Message)
	assert.ErrorIs(t, converted, plain)
}
