package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	ferrors "github.com/lepinkainen/folio/internal/errors"
	"github.com/lepinkainen/folio/internal/proxy"
	"github.com/lepinkainen/folio/internal/search"
)

// Error codes returned in {"error": {"code": ...}}.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeUnknownSource  = "unknown_source"
	ErrCodeNotResolvable  = "not_resolvable"
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeUpstream       = "upstream_error"
	ErrCodeTimeout        = "upstream_timeout"
)

// APIError is the body of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: APIError{Code: code, Message: message}})
}

// writeFailure maps a typed error to its status and code.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= 500 {
		slog.Warn("Request failed", "status", status, "error", err)
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, search.ErrUnknownSource):
		return http.StatusBadRequest, ErrCodeUnknownSource
	case errors.Is(err, proxy.ErrInvalidURL):
		return http.StatusBadRequest, ErrCodeBadRequest
	case ferrors.IsNotResolvable(err):
		return http.StatusNotFound, ErrCodeNotResolvable
	case ferrors.IsInvalidPayload(err):
		return http.StatusUnprocessableEntity, ErrCodeInvalidPayload
	case ferrors.IsRetrievalTimeout(err):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	default:
		// Blocked, bad status, rate limited, unparseable or unreachable upstream.
		return http.StatusBadGateway, ErrCodeUpstream
	}
}
