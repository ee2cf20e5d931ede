package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the category of a Burrow error. Codes are stable strings
// used in API error envelopes and mapped to HTTP statuses at the boundary.
type Code string

const (
	CodeValidationFailed    Code = "VALIDATION_FAILED"
	CodeInvalidCommand      Code = "INVALID_COMMAND"
	CodeInvalidPort         Code = "INVALID_PORT"
	CodeInvalidProxyURL     Code = "INVALID_PROXY_URL"
	CodePortAlreadyExposed  Code = "PORT_ALREADY_EXPOSED"
	CodePortNotExposed      Code = "PORT_NOT_EXPOSED"
	CodeResourceNotFound    Code = "RESOURCE_NOT_FOUND"
	CodeSessionTerminated   Code = "SESSION_TERMINATED"
	CodeNotInitialized      Code = "NOT_INITIALIZED"
	CodeTimeout             Code = "TIMEOUT"
	CodeProcessStartError   Code = "PROCESS_START_ERROR"
	CodeFilesystemError     Code = "FILESYSTEM_ERROR"
	CodeFileNotFound        Code = "FILE_NOT_FOUND"
	CodeGitInvalidRef       Code = "GIT_INVALID_REF"
	CodeRepoNotFound        Code = "REPO_NOT_FOUND"
	CodeGitOperationFailed  Code = "GIT_OPERATION_FAILED"
	CodeInterpreterNotReady Code = "INTERPRETER_NOT_READY"
	CodeExecutionError      Code = "EXECUTION_ERROR"
	CodePoolExhausted       Code = "POOL_EXHAUSTED"
	CodeCircuitOpen         Code = "CIRCUIT_OPEN"
	CodeUpstreamUnreachable Code = "UPSTREAM_UNREACHABLE"
	CodeUnknown             Code = "UNKNOWN"
)

// Error is the discriminated error type returned by core components.
// Context carries structured details that the API layer forwards verbatim.
type Error struct {
	Code    Code
	Message string
	Context map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithContext attaches a structured detail to the error and returns it.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an underlying error with a code and message. Exceptions from
// external libraries are wrapped at component boundaries so nothing crosses
// the HTTP layer untyped.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// GetCode extracts the code from an error, returning CodeUnknown for
// errors that did not originate from a Burrow component.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// GetContext extracts the structured context from an error, if any.
func GetContext(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Context
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// HTTPStatus maps an error code to the HTTP status the API layer responds
// with. Validation problems are 400, missing resources 404, conflicts 409,
// warm-up and circuit conditions 503, proxy upstream failures 502.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidationFailed, CodeInvalidCommand, CodeInvalidPort, CodeGitInvalidRef:
		return http.StatusBadRequest
	case CodeResourceNotFound, CodeFileNotFound, CodePortNotExposed, CodeRepoNotFound:
		return http.StatusNotFound
	case CodePortAlreadyExposed:
		return http.StatusConflict
	case CodeInterpreterNotReady, CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case CodeUpstreamUnreachable:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
