package observability

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanko-field/orderdesk/internal/platform/requestctx"
)

// CloudTraceHeader is the legacy Google Cloud propagation header:
// TRACE_ID/SPAN_ID;o=OPTIONS with a hex trace id and a decimal span id.
const CloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/hanko-field/orderdesk/internal/platform/observability")

// TraceMiddleware continues an incoming Cloud Trace context when present, starts a server
// span and records the ids on the request context for logs and error bodies.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if remote, ok := parseCloudTraceHeader(r.Header.Get(CloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}

			ctx, span := tracer.Start(ctx, r.Method+" "+requestPath(r), trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			span.SetAttributes(requestAttributes(r)...)

			sc := span.SpanContext()
			info := requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled(),
				ProjectID: projectID,
			}
			if sc.IsValid() {
				w.Header().Set(CloudTraceHeader, formatCloudTraceHeader(sc))
			}

			next.ServeHTTP(w, r.WithContext(requestctx.WithTrace(ctx, info)))
		})
	}
}

// parseCloudTraceHeader accepts decimal span ids as documented and falls back to 16 hex
// digits, which some proxies emit.
func parseCloudTraceHeader(header string) (trace.SpanContext, bool) {
	header = strings.TrimSpace(header)
	traceHex, rest, found := strings.Cut(header, "/")
	if !found || len(traceHex) != 32 {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}

	spanRaw, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseSpanID(strings.TrimSpace(spanRaw))
	if !ok {
		return trace.SpanContext{}, false
	}

	var flags trace.TraceFlags
	for _, opt := range strings.Split(options, ";") {
		if strings.TrimSpace(opt) == "o=1" {
			flags = trace.FlagsSampled
		}
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

func parseSpanID(raw string) (trace.SpanID, bool) {
	if raw == "" {
		return trace.SpanID{}, false
	}
	var id trace.SpanID
	if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
		binary.BigEndian.PutUint64(id[:], n)
		return id, id.IsValid()
	}
	if len(raw) == 16 {
		if parsed, err := trace.SpanIDFromHex(raw); err == nil {
			return parsed, true
		}
	}
	return trace.SpanID{}, false
}

func formatCloudTraceHeader(sc trace.SpanContext) string {
	spanID := sc.SpanID()
	option := 0
	if sc.IsSampled() {
		option = 1
	}
	return fmt.Sprintf("%s/%d;o=%d", sc.TraceID().String(), binary.BigEndian.Uint64(spanID[:]), option)
}

func requestPath(r *http.Request) string {
	if r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", SanitizeMethod(r.Method)),
		attribute.String("url.scheme", scheme),
		attribute.String("url.path", requestPath(r)),
	}
	if r.Host != "" {
		attrs = append(attrs, attribute.String("server.address", r.Host))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", sanitizeString(ua, 256)))
	}
	return attrs
}
