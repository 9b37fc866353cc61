package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/orderdesk/internal/platform/httpx"
	"github.com/hanko-field/orderdesk/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	anonymousActor    = "anonymous"
)

type middlewareConfig struct {
	headerName  string
	ttl         time.Duration
	requireKey  bool
	clock       func() time.Time
	logger      *zap.Logger
	maxBodySize int64
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header name used to extract the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed idempotency records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithRequiredKey rejects guarded requests that carry no key. By default such requests
// pass through unguarded.
func WithRequiredKey(required bool) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.requireKey = required
	}
}

// WithLogger injects a logger for persistence errors.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithMaxBodySize bounds the request body buffered for fingerprinting.
func WithMaxBodySize(limit int64) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if limit > 0 {
			cfg.maxBodySize = limit
		}
	}
}

// Middleware makes the wrapped handler safe to retry: the first response stored under an
// Idempotency-Key is replayed for later requests with the same key and body. Keys are
// scoped per actor. Server errors are not stored so the caller can retry them.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName:  defaultHeaderName,
		ttl:         DefaultTTL,
		clock:       time.Now,
		logger:      zap.NewNop(),
		maxBodySize: 1 << 20,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				if cfg.requireKey {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+cfg.headerName+" header", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			body, err := readAndReplayBody(r, cfg.maxBodySize)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}

			actor := requestctx.Actor(ctx)
			if actor == "" {
				actor = anonymousActor
			}
			fingerprint := requestFingerprint(r, body, actor)
			scoped := scopedKey(key, actor)
			logger := requestctx.Logger(ctx)
			if logger == requestctx.NoopLogger() {
				logger = cfg.logger
			}

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
					return
				}
				logger.Error("idempotency reserve failed", zap.String("key", key), zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				writeStoredResponse(w, reservation.Record)
				return
			case ReservationStatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			recorder := newResponseRecorder(w)
			next.ServeHTTP(recorder, r)

			if recorder.Status() >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped, fingerprint); err != nil {
					logger.Warn("idempotency release failed", zap.String("key", key), zap.Error(err))
				}
			} else {
				response := Response{
					Status:  recorder.Status(),
					Headers: recorder.HeaderSnapshot(),
					Body:    recorder.Body(),
				}
				if err := store.SaveResponse(ctx, scoped, fingerprint, response, cfg.clock().UTC(), cfg.ttl); err != nil {
					// The handler already ran; the response is still delivered but a retry
					// with this key would run it again.
					logger.Error("idempotency save failed", zap.String("key", key), zap.Error(err))
					if releaseErr := store.Release(ctx, scoped, fingerprint); releaseErr != nil {
						logger.Warn("idempotency release failed", zap.String("key", key), zap.Error(releaseErr))
					}
				}
			}

			if err := recorder.Commit(); err != nil {
				logger.Warn("idempotency flush failed", zap.String("key", key), zap.Error(err))
			}
		})
	}
}

func readAndReplayBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errors.New("request body too large")
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte, actor string) string {
	var b strings.Builder
	for _, part := range []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		actor,
		hashBody(body),
	} {
		b.WriteString(part)
		b.WriteByte('|')
	}
	return sha256Hex([]byte(b.String()))
}

func hashBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return sha256Hex(body)
}

func scopedKey(key, actor string) string {
	return strings.TrimSpace(key) + "|" + strings.TrimSpace(actor)
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	for key := range w.Header() {
		w.Header().Del(key)
	}
	for key, values := range headersFromRecord(record.ResponseHeaders) {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

// responseRecorder buffers the handler output so it can be stored before reaching the client.
type responseRecorder struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder(parent http.ResponseWriter) *responseRecorder {
	return &responseRecorder{
		parent: parent,
		header: make(http.Header),
	}
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.status != 0 {
		return
	}
	if status <= 0 {
		status = http.StatusOK
	}
	r.status = status
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Body() []byte {
	if r.body.Len() == 0 {
		return nil
	}
	return r.body.Bytes()
}

func (r *responseRecorder) HeaderSnapshot() http.Header {
	return headersFromRecord(r.header)
}

func (r *responseRecorder) Commit() error {
	dst := r.parent.Header()
	for key, values := range r.header {
		dst[key] = append([]string(nil), values...)
	}
	r.parent.WriteHeader(r.Status())
	if r.body.Len() == 0 {
		return nil
	}
	_, err := r.parent.Write(r.body.Bytes())
	return err
}
