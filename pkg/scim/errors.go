package scim

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable machine-readable error codes surfaced at every boundary.
const (
	CodeInvalidRequest          = "INVALID_REQUEST"
	CodeValidation              = "VALIDATION_ERROR"
	CodeResourceNotFound        = "RESOURCE_NOT_FOUND"
	CodeSchemaNotFound          = "SCHEMA_NOT_FOUND"
	CodeUnsupportedResourceType = "UNSUPPORTED_RESOURCE_TYPE"
	CodeUnsupportedOperation    = "UNSUPPORTED_OPERATION"
	CodeVersionMismatch         = "version_mismatch"
	CodeDuplicateAttribute      = "DUPLICATE_ATTRIBUTE"
	CodeQuotaExceeded           = "QUOTA_EXCEEDED"
	CodeTenantValidation        = "TENANT_VALIDATION"
	CodeProviderError           = "PROVIDER_ERROR"
	CodeInternal                = "INTERNAL_ERROR"
)

// Error is the domain error carried through the core. Code is part of the
// contract; Message is stable English for UI display but not contractual.
type Error struct {
	Code      string
	Message   string
	Attribute string // offending attribute, when known
	Err       error  // wrapped cause, never shown to clients verbatim
}

func (e *Error) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Attribute, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a domain error with the given code.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ValidationError builds a VALIDATION_ERROR naming the offending attribute.
func ValidationError(attribute, format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Attribute: attribute, Message: fmt.Sprintf(format, args...)}
}

// InvalidRequest builds an INVALID_REQUEST error.
func InvalidRequest(format string, args ...any) *Error {
	return NewError(CodeInvalidRequest, format, args...)
}

// WrapProvider wraps a storage-level failure as PROVIDER_ERROR. The inner
// cause stays available for logging via Unwrap but is not part of the
// client-visible message.
func WrapProvider(err error) *Error {
	return &Error{Code: CodeProviderError, Message: "storage operation failed", Err: err}
}

// CodeOf extracts the domain code from err, or INTERNAL_ERROR when err is
// not a domain error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given domain code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a domain code to its typical transport status.
func HTTPStatus(code string) int {
	switch code {
	case CodeInvalidRequest, CodeValidation, CodeUnsupportedResourceType, CodeTenantValidation:
		return http.StatusBadRequest
	case CodeResourceNotFound, CodeSchemaNotFound:
		return http.StatusNotFound
	case CodeUnsupportedOperation:
		return http.StatusMethodNotAllowed
	case CodeVersionMismatch:
		return http.StatusPreconditionFailed
	case CodeDuplicateAttribute, CodeQuotaExceeded:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
