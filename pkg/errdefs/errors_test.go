package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestHTTPStatusMapping tests the code to HTTP status table
func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		code     Code
		expected int
	}{
		{"validation failed", CodeValidationFailed, http.StatusBadRequest},
		{"invalid command", CodeInvalidCommand, http.StatusBadRequest},
		{"invalid port", CodeInvalidPort, http.StatusBadRequest},
		{"resource not found", CodeResourceNotFound, http.StatusNotFound},
		{"file not found", CodeFileNotFound, http.StatusNotFound},
		{"port not exposed", CodePortNotExposed, http.StatusNotFound},
		{"port already exposed", CodePortAlreadyExposed, http.StatusConflict},
		{"interpreter not ready", CodeInterpreterNotReady, http.StatusServiceUnavailable},
		{"circuit open", CodeCircuitOpen, http.StatusServiceUnavailable},
		{"upstream unreachable", CodeUpstreamUnreachable, http.StatusBadGateway},
		{"timeout", CodeTimeout, http.StatusInternalServerError},
		{"unknown", CodeUnknown, http.StatusInternalServerError},
		{"invalid proxy url", CodeInvalidProxyURL, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.code))
		})
	}
}

func TestGetCode(t *testing.T) {
	err := New(CodeTimeout, "command timed out")
	assert.Equal(t, CodeTimeout, GetCode(err))

	// Wrapped through fmt.Errorf the code must still be extractable
	wrapped := fmt.Errorf("exec failed: %w", err)
	assert.Equal(t, CodeTimeout, GetCode(wrapped))

	// Foreign errors degrade to unknown
	assert.Equal(t, CodeUnknown, GetCode(errors.New("boom")))
	assert.Equal(t, CodeUnknown, GetCode(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeUpstreamUnreachable, "upstream not reachable")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "UPSTREAM_UNREACHABLE")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWithContext(t *testing.T) {
	err := New(CodeInterpreterNotReady, "kernel manager warming up").
		WithContext("progress", 40).
		WithContext("retryAfter", 5)

	ctx := GetContext(err)
	assert.Equal(t, 40, ctx["progress"])
	assert.Equal(t, 5, ctx["retryAfter"])

	assert.Nil(t, GetContext(errors.New("plain")))
}

func TestIsCode(t *testing.T) {
	err := New(CodePoolExhausted, "python pool at capacity")
	assert.True(t, IsCode(err, CodePoolExhausted))
	assert.False(t, IsCode(err, CodeTimeout))
}
