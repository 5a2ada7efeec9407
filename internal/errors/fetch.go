package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"
	"time"
)

// RetrievalTimeoutError is returned when a fetch exceeded its deadline on every attempt.
type RetrievalTimeoutError struct {
	URL      string
	Timeout  time.Duration
	Attempts int
}

func (e *RetrievalTimeoutError) Error() string {
	return fmt.Sprintf("retrieval timed out after %d attempt(s) of %s: %s", e.Attempts, e.Timeout, e.URL)
}

// NewRetrievalTimeoutError creates a RetrievalTimeoutError.
func NewRetrievalTimeoutError(url string, timeout time.Duration, attempts int) *RetrievalTimeoutError {
	return &RetrievalTimeoutError{URL: url, Timeout: timeout, Attempts: attempts}
}

// IsRetrievalTimeout reports whether err is a RetrievalTimeoutError.
func IsRetrievalTimeout(err error) bool {
	var tErr *RetrievalTimeoutError
	return stdErrors.As(err, &tErr)
}

// BlockedError means the upstream refused us: HTTP 403/503 or a recognizable block page.
// Cause is set when every mirror of a source was exhausted.
type BlockedError struct {
	URL        string
	StatusCode int
	Marker     string
	Cause      error
}

func (e *BlockedError) Error() string {
	var sb strings.Builder
	sb.WriteString("blocked by upstream")
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (HTTP %d)", e.StatusCode)
	}
	if e.Marker != "" {
		fmt.Fprintf(&sb, " (marker %q)", e.Marker)
	}
	if e.URL != "" {
		sb.WriteString(": ")
		sb.WriteString(e.URL)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *BlockedError) Unwrap() error {
	return e.Cause
}

// NewBlockedError creates a BlockedError from an HTTP status.
func NewBlockedError(url string, statusCode int) *BlockedError {
	return &BlockedError{URL: url, StatusCode: statusCode}
}

// NewBlockPageError creates a BlockedError for a 2xx page that contained a block marker.
func NewBlockPageError(url, marker string) *BlockedError {
	return &BlockedError{URL: url, Marker: marker}
}

// NewMirrorsExhaustedError creates the BlockedError reported when no mirror
// of a source produced a usable page.
func NewMirrorsExhaustedError(url string, cause error) *BlockedError {
	return &BlockedError{URL: url, Cause: cause}
}

// IsBlocked reports whether err is a BlockedError.
func IsBlocked(err error) bool {
	var bErr *BlockedError
	return stdErrors.As(err, &bErr)
}

// StatusError is a terminal non-2xx response that is neither blocked nor rate limited.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.URL)
}

// NewStatusError creates a StatusError.
func NewStatusError(url string, statusCode int) *StatusError {
	return &StatusError{URL: url, StatusCode: statusCode}
}

// IsStatusError reports whether err is a StatusError.
func IsStatusError(err error) bool {
	var sErr *StatusError
	return stdErrors.As(err, &sErr)
}

// CircuitOpenError is returned when a source is short-circuited after repeated failures.
type CircuitOpenError struct {
	Source string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("source %s temporarily disabled after repeated failures", e.Source)
}

// IsCircuitOpen reports whether err is a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var cErr *CircuitOpenError
	return stdErrors.As(err, &cErr)
}
