package errors

import (
	stdErrors "errors"
	"fmt"
)

// ParseFailureError means a response did not match the expected schema or markup.
type ParseFailureError struct {
	Source string
	Reason string
	Err    error
}

func (e *ParseFailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: parse failure: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: parse failure: %s", e.Source, e.Reason)
}

func (e *ParseFailureError) Unwrap() error {
	return e.Err
}

// NewParseFailureError creates a ParseFailureError.
func NewParseFailureError(source, reason string, err error) *ParseFailureError {
	return &ParseFailureError{Source: source, Reason: reason, Err: err}
}

// IsParseFailure reports whether err is a ParseFailureError.
func IsParseFailure(err error) bool {
	var pErr *ParseFailureError
	return stdErrors.As(err, &pErr)
}

// NotResolvableError means a placeholder download URL has no EPUB or PDF behind it.
type NotResolvableError struct {
	Identifier string
	Reason     string
}

func (e *NotResolvableError) Error() string {
	return fmt.Sprintf("cannot resolve download for %s: %s", e.Identifier, e.Reason)
}

// NewNotResolvableError creates a NotResolvableError.
func NewNotResolvableError(identifier, reason string) *NotResolvableError {
	return &NotResolvableError{Identifier: identifier, Reason: reason}
}

// IsNotResolvable reports whether err is a NotResolvableError.
func IsNotResolvable(err error) bool {
	var nErr *NotResolvableError
	return stdErrors.As(err, &nErr)
}

// InvalidPayloadError means downloaded bytes are undersized or not the expected kind of file.
type InvalidPayloadError struct {
	URL    string
	Size   int
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid payload from %s (%d bytes): %s", e.URL, e.Size, e.Reason)
}

// NewInvalidPayloadError creates an InvalidPayloadError.
func NewInvalidPayloadError(url string, size int, reason string) *InvalidPayloadError {
	return &InvalidPayloadError{URL: url, Size: size, Reason: reason}
}

// IsInvalidPayload reports whether err is an InvalidPayloadError.
func IsInvalidPayload(err error) bool {
	var iErr *InvalidPayloadError
	return stdErrors.As(err, &iErr)
}
