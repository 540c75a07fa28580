package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode categorizes clip and retrieval failures.
type ErrorCode string

// Error codes.
const (
	CodeEmptyClip           ErrorCode = "empty_clip"
	CodeMissingCRS          ErrorCode = "missing_crs"
	CodeUnsupportedGeometry ErrorCode = "unsupported_geometry"
	CodeDimensionNotFound   ErrorCode = "dimension_not_found"
	CodeInvalidRequest      ErrorCode = "invalid_request"
	CodeNoGriddedPayload    ErrorCode = "no_gridded_payload"
	CodeArchiveNotFound     ErrorCode = "archive_not_found"
	CodeDownloadFailed      ErrorCode = "download_failed"
	CodeInternal            ErrorCode = "internal_error"
)

// HTTPStatus maps an ErrorCode to its HTTP status code.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeEmptyClip, CodeMissingCRS, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeUnsupportedGeometry, CodeDimensionNotFound, CodeNoGriddedPayload:
		return http.StatusUnprocessableEntity
	case CodeArchiveNotFound:
		return http.StatusNotFound
	case CodeDownloadFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ClipError is the typed failure returned by the clipping core and the
// use cases around it.
type ClipError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ClipError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ClipError) Unwrap() error {
	return e.Err
}

// Is matches any ClipError with the same code, so the sentinels below work
// with errors.Is.
func (e *ClipError) Is(target error) bool {
	var t *ClipError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus returns the HTTP status for this error's code.
func (e *ClipError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// Sentinels for errors.Is.
var (
	ErrEmptyClip           = &ClipError{Code: CodeEmptyClip, Message: "clip result is empty"}
	ErrMissingCRS          = &ClipError{Code: CodeMissingCRS, Message: "geometry has no coordinate reference system"}
	ErrUnsupportedGeometry = &ClipError{Code: CodeUnsupportedGeometry, Message: "geometry cannot be used as a mask"}
	ErrDimensionNotFound   = &ClipError{Code: CodeDimensionNotFound, Message: "spatial dimension not found"}
	ErrInvalidRequest      = &ClipError{Code: CodeInvalidRequest, Message: "invalid request"}
	ErrNoGriddedPayload    = &ClipError{Code: CodeNoGriddedPayload, Message: "archive contains no NetCDF file"}
	ErrArchiveNotFound     = &ClipError{Code: CodeArchiveNotFound, Message: "archive not found"}
	ErrDownloadFailed      = &ClipError{Code: CodeDownloadFailed, Message: "download failed"}
)

// NewClipError creates a ClipError.
func NewClipError(code ErrorCode, message string, err error) *ClipError {
	return &ClipError{Code: code, Message: message, Err: err}
}

// NewClipErrorWithDetails creates a ClipError carrying structured details.
func NewClipErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *ClipError {
	return &ClipError{Code: code, Message: message, Err: err, Details: details}
}

// CodeOf returns the code of the first ClipError in err's chain, or
// CodeInternal.
func CodeOf(err error) ErrorCode {
	var ce *ClipError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}
