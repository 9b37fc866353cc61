package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/orderdesk/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "105445aa7843bc8bf206b12000100000"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("insufficient_stock", "not enough desks", http.StatusConflict).WithDetails(map[string]any{
		"product_id": "desk",
		"available":  1,
	}))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]any{
		"error":      "insufficient_stock",
		"message":    "not enough desks",
		"status":     float64(409),
		"request_id": "req-42",
		"trace_id":   "105445aa7843bc8bf206b12000100000",
		"product_id": "desk",
		"available":  float64(1),
	}
	for key, value := range want {
		if body[key] != value {
			t.Fatalf("field %s: expected %v, got %v", key, value, body[key])
		}
	}
}

func TestWriteErrorDefaultsAndReservedKeys(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req\n7")
	rr := httptest.NewRecorder()
	WriteError(ctx, rr, Error{Code: "internal", Message: "boom"}.WithDetails(map[string]any{
		"status":  418,
		"error":   "teapot",
		"attempt": 2,
	}))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for zero status, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["request_id"] != "req 7" {
		t.Fatalf("expected sanitised request id, got %v", body["request_id"])
	}
	if body["status"] != float64(500) || body["error"] != "internal" {
		t.Fatalf("details must not override envelope keys, got %v", body)
	}
	if body["attempt"] != float64(2) {
		t.Fatalf("expected extra detail to be kept, got %v", body["attempt"])
	}
	if _, ok := body["trace_id"]; ok {
		t.Fatalf("expected trace_id to be omitted without trace context")
	}
}

func TestInternalError(t *testing.T) {
	err := Internal("failed to process request")
	if err.Code != "internal" || err.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected internal error %+v", err)
	}
}

func TestNewErrorSanitises(t *testing.T) {
	err := NewError(" bad\r\ncode ", strings.Repeat("m", 600), 0)
	if err.Code != "bad  code" {
		t.Fatalf("unexpected code %q", err.Code)
	}
	if len(err.Message) != 512 {
		t.Fatalf("expected message truncated to 512, got %d", len(err.Message))
	}
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected default status 500, got %d", err.Status)
	}
}

func TestWithDetailsCopies(t *testing.T) {
	details := map[string]any{"a": 1}
	err := NewError("conflict", "x", http.StatusConflict).WithDetails(details)
	details["a"] = 2
	if err.Details["a"] != 1 {
		t.Fatalf("expected details to be copied")
	}
	if same := err.WithDetails(nil); len(same.Details) != 1 {
		t.Fatalf("expected empty details to leave existing ones")
	}
	merged := err.WithDetails(map[string]any{"b": 3})
	if merged.Details["a"] != 1 || merged.Details["b"] != 3 || len(err.Details) != 1 {
		t.Fatalf("expected details to merge without touching the original, got %v", merged.Details)
	}
}
