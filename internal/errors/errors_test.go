package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestRateLimitError(t *testing.T) {
	err := NewRateLimitError("slow down")

	if err.Error() != "slow down" {
		t.Fatalf("Error message = %q, want %q", err.Error(), "slow down")
	}

	if !IsRateLimitError(err) {
		t.Fatalf("IsRateLimitError returned false for RateLimitError")
	}

	wrapped := stdErrors.Join(err)
	if !IsRateLimitError(wrapped) {
		t.Fatalf("IsRateLimitError returned false for wrapped RateLimitError")
	}
}

func TestStopProcessingError(t *testing.T) {
	err := NewStopProcessingError("user stopped")

	if err.Error() != "user stopped" {
		t.Fatalf("Error message = %q, want %q", err.Error(), "user stopped")
	}

	if !IsStopProcessingError(err) {
		t.Fatalf("IsStopProcessingError returned false for StopProcessingError")
	}

	wrapped := stdErrors.Join(err)
	if !IsStopProcessingError(wrapped) {
		t.Fatalf("IsStopProcessingError returned false for wrapped StopProcessingError")
	}
}

func TestRateLimitErrorWithRetry(t *testing.T) {
	err := NewRateLimitErrorWithRetry("too many requests", 2*time.Minute)

	expected := "too many requests (retry after 2m0s)"
	if err.Error() != expected {
		t.Fatalf("Error message = %q, want %q", err.Error(), expected)
	}

	if !IsRateLimitError(err) {
		t.Fatalf("IsRateLimitError returned false for RateLimitErrorWithRetry")
	}

	if err.RetryAfter.Minutes() != 2.0 {
		t.Fatalf("RetryAfter = %v, want 2 minutes", err.RetryAfter)
	}
}

func TestRateLimitErrorWithRetry_ZeroDuration(t *testing.T) {
	err := NewRateLimitErrorWithRetry("rate limited", 0)

	// When RetryAfter is 0, the implementation only adds retry info if > 0
	expected := "rate limited"
	if err.Error() != expected {
		t.Fatalf("Error message = %q, want %q", err.Error(), expected)
	}

	if err.RetryAfter != 0 {
		t.Fatalf("RetryAfter = %v, want 0", err.RetryAfter)
	}
}

func TestRateLimitErrorWithRetry_VariousDurations(t *testing.T) {
	tests := []struct {
		name            string
		duration        time.Duration
		expectedMessage string
	}{
		{
			name:            "1 second",
			duration:        1 * time.Second,
			expectedMessage: "rate limited (retry after 1s)",
		},
		{
			name:            "30 seconds",
			duration:        30 * time.Second,
			expectedMessage: "rate limited (retry after 30s)",
		},
		{
			name:            "1 hour",
			duration:        1 * time.Hour,
			expectedMessage: "rate limited (retry after 1h0m0s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRateLimitErrorWithRetry("rate limited", tt.duration)
			if err.Error() != tt.expectedMessage {
				t.Fatalf("Error message = %q, want %q", err.Error(), tt.expectedMessage)
			}
		})
	}
}

func TestRetrievalTimeoutError(t *testing.T) {
	err := NewRetrievalTimeoutError("https://gutendex.com/books", 12*time.Second, 3)

	expected := "retrieval timed out after 3 attempt(s) of 12s: https://gutendex.com/books"
	if err.Error() != expected {
		t.Fatalf("Error message = %q, want %q", err.Error(), expected)
	}
	if !IsRetrievalTimeout(fmt.Errorf("gutenberg: %w", err)) {
		t.Fatalf("IsRetrievalTimeout returned false for wrapped RetrievalTimeoutError")
	}
	if IsBlocked(err) {
		t.Fatalf("IsBlocked returned true for RetrievalTimeoutError")
	}
}

func TestBlockedError_Status(t *testing.T) {
	err := NewBlockedError("https://example.test/search", 503)

	expected := "blocked by upstream (HTTP 503): https://example.test/search"
	if err.Error() != expected {
		t.Fatalf("Error message = %q, want %q", err.Error(), expected)
	}
	if !IsBlocked(stdErrors.Join(err, stdErrors.New("context"))) {
		t.Fatalf("IsBlocked returned false for joined BlockedError")
	}
}

func TestBlockedError_Marker(t *testing.T) {
	err := NewBlockPageError("https://example.test", "access denied")

	expected := `blocked by upstream (marker "access denied"): https://example.test`
	if err.Error() != expected {
		t.Fatalf("Error message = %q, want %q", err.Error(), expected)
	}
}

func TestMirrorsExhaustedError(t *testing.T) {
	cause := NewRetrievalTimeoutError("https://mirror.test", time.Second, 2)
	err := NewMirrorsExhaustedError("https://primary.test/search", cause)

	if !IsBlocked(err) {
		t.Fatalf("IsBlocked returned false")
	}
	if !IsRetrievalTimeout(err) {
		t.Fatalf("cause should be reachable through Unwrap")
	}
	if !strings.HasPrefix(err.Error(), "blocked by upstream: https://primary.test/search: retrieval timed out") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestParseFailureUnwraps(t *testing.T) {
	inner := stdErrors.New("unexpected EOF")
	err := NewParseFailureError("gutenberg", "decode json", inner)

	if !IsParseFailure(err) {
		t.Fatalf("IsParseFailure returned false")
	}
	if !stdErrors.Is(err, inner) {
		t.Fatalf("ParseFailureError does not unwrap to inner error")
	}
	if err.Error() != "gutenberg: parse failure: decode json: unexpected EOF" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestNotResolvableAndInvalidPayload(t *testing.T) {
	nr := NewNotResolvableError("frankenstein1818", "no EPUB or PDF file listed")
	if !IsNotResolvable(fmt.Errorf("resolve: %w", nr)) {
		t.Fatalf("IsNotResolvable returned false for wrapped error")
	}
	if IsInvalidPayload(nr) {
		t.Fatalf("IsInvalidPayload returned true for NotResolvableError")
	}

	ip := NewInvalidPayloadError("https://example.test/book.epub", 512, "body smaller than 1000 bytes")
	if !IsInvalidPayload(ip) {
		t.Fatalf("IsInvalidPayload returned false")
	}
	expected := "invalid payload from https://example.test/book.epub (512 bytes): body smaller than 1000 bytes"
	if ip.Error() != expected {
		t.Fatalf("Error message = %q, want %q", ip.Error(), expected)
	}
}

func TestStatusAndCircuitOpen(t *testing.T) {
	st := NewStatusError("https://example.test", 404)
	if !IsStatusError(st) || st.StatusCode != 404 {
		t.Fatalf("unexpected StatusError %+v", st)
	}

	co := &CircuitOpenError{Source: "manybooks"}
	if !IsCircuitOpen(fmt.Errorf("wrapped: %w", co)) {
		t.Fatalf("IsCircuitOpen returned false for wrapped error")
	}
}
