package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/orderdesk/internal/platform/requestctx"
)

const (
	maxCodeLen      = 80
	maxMessageLen   = 512
	maxRequestIDLen = 80
	maxTraceIDLen   = 64
)

// Reserved envelope keys; Details cannot overwrite them.
var envelopeKeys = map[string]struct{}{
	"error":      {},
	"message":    {},
	"status":     {},
	"request_id": {},
	"trace_id":   {},
}

// Error is the JSON error body every handler and middleware answers with. The request and
// trace ids are not carried here; WriteError reads them from the request context.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError constructs a new Error with the provided parameters. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, maxCodeLen),
		Message: sanitize(message, maxMessageLen),
		Status:  status,
	}
}

// Internal is the body for failures whose cause must not reach the caller.
func Internal(message string) Error {
	return NewError("internal", message, http.StatusInternalServerError)
}

// WithDetails attaches additional JSON-serialisable metadata, flattened into the envelope.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

func (e Error) envelope(ctx context.Context) map[string]any {
	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	body := make(map[string]any, len(e.Details)+5)
	for k, v := range e.Details {
		if _, reserved := envelopeKeys[k]; !reserved {
			body[k] = v
		}
	}
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = status
	if id := sanitize(middleware.GetReqID(ctx), maxRequestIDLen); id != "" {
		body["request_id"] = id
	}
	if id := sanitize(requestctx.TraceID(ctx), maxTraceIDLen); id != "" {
		body["trace_id"] = id
	}
	return body
}

// WriteError writes the structured error as JSON to the provided response writer.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	body := err.envelope(ctx)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(body["status"].(int))
	_ = json.NewEncoder(w).Encode(body)
}

func sanitize(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
