package model

import (
	perrors "github.com/jmgilman/go/errors"
)

// Error codes shared by the cache, backend and orchestration layers.
const (
	CodeRateLimited        = perrors.CodeRateLimit
	CodeBackend            = perrors.CodeExecutionFailed
	CodeTransport          = perrors.CodeNetwork
	CodeCache              = perrors.CodeDatabase
	CodeNoExistingArtifact = perrors.CodeNotFound
	CodeInvalidInput       = perrors.CodeInvalidInput

	CodeDecode     perrors.ErrorCode = "DECODE_FAILED"
	CodeIO         perrors.ErrorCode = "IO_ERROR"
	CodeInvalidKey perrors.ErrorCode = "INVALID_KEY"
)

// Context keys attached to backend errors.
const (
	ContextStatus         = "status"
	ContextTimeout        = "timeout"
	ContextRequiresAPIKey = "requires_api_key"
	ContextBackendMessage = "backend_message"
)

// HasCode reports whether err carries the given error code.
func HasCode(err error, code perrors.ErrorCode) bool {
	return err != nil && perrors.GetCode(err) == code
}

// RequiresAPIKey reports whether the backend flagged that a user API key is needed.
func RequiresAPIKey(err error) bool {
	var pe perrors.PlatformError
	if !perrors.As(err, &pe) {
		return false
	}
	v, _ := pe.Context()[ContextRequiresAPIKey].(bool)
	return v
}

// BackendMessage returns the error text the backend itself supplied, if any.
func BackendMessage(err error) string {
	var pe perrors.PlatformError
	if !perrors.As(err, &pe) {
		return ""
	}
	v, _ := pe.Context()[ContextBackendMessage].(string)
	return v
}
