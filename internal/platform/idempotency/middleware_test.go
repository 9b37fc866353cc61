package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hanko-field/orderdesk/internal/platform/requestctx"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func newOrderRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func TestMiddleware_MissingHeaderPassesThrough(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))

	calls := 0
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newOrderRequest("", `{"clientId":"c-1"}`))
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected unguarded requests to reach the handler twice, got %d", calls)
	}
}

func TestMiddleware_MissingHeaderRejectedWhenRequired(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithRequiredKey(true))
	handler := middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when header is missing")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newOrderRequest("", `{"clientId":"c-1"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"ord_1"}`))
		}),
	)

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newOrderRequest("abc-123", `{"clientId":"c-1"}`))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newOrderRequest("abc-123", `{"clientId":"c-1"}`))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if rr1.Code != http.StatusCreated || rr2.Code != http.StatusCreated {
		t.Fatalf("unexpected statuses %d / %d", rr1.Code, rr2.Code)
	}
	if rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header to be present")
	}
	if got := rr2.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content-type json, got %s", got)
	}
	if rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("expected response body %s, got %s", rr1.Body.String(), rr2.Body.String())
	}
}

func TestMiddleware_KeysAreScopedPerActor(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for _, actor := range []string{"ops-1", "ops-2"} {
		req := newOrderRequest("shared", `{"clientId":"c-1"}`)
		req = req.WithContext(requestctx.WithActor(req.Context(), actor))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected each actor to get its own key space, got %d calls", calls)
	}
}

func TestMiddleware_ConflictingFingerprintReturnsConflict(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newOrderRequest("same-key", `{"clientId":"c-1"}`))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first request success, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newOrderRequest("same-key", `{"clientId":"c-2"}`))
	if rr2.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", rr2.Code)
	}
	assertErrorResponse(t, rr2.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingReservationReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler should not be invoked when reservation pending")
		}),
	)

	req := newOrderRequest("pending-key", `{"clientId":"c-1"}`)
	body, err := readAndReplayBody(req, 1<<20)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	fingerprint := requestFingerprint(req, body, anonymousActor)
	if _, err := store.Reserve(req.Context(), scopedKey("pending-key", anonymousActor), fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("failed to seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending reservation, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ServerErrorsAreNotStored(t *testing.T) {
	store := &stubStore{}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newOrderRequest("retry-me", `{}`))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected handler status to pass through, got %d", rr.Code)
	}
	if store.saved || !store.released {
		t.Fatalf("expected release without save, got saved=%v released=%v", store.saved, store.released)
	}
}

func TestMiddleware_SaveFailureStillDeliversResponse(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newOrderRequest("fail-key", `{}`))

	if rr.Code != http.StatusCreated || rr.Body.String() != "ok" {
		t.Fatalf("expected handler response, got %d %q", rr.Code, rr.Body.String())
	}
	if !store.released {
		t.Fatalf("expected reservation to be released on failure")
	}
}

func TestMiddleware_StoreOutageReturnsUnavailable(t *testing.T) {
	store := &stubStore{reserveErr: errors.New("deadline exceeded")}
	handler := Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run when the store is down")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newOrderRequest("k", `{}`))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "old", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.Reserve(ctx, "new", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(10*time.Minute), 10)
	if err != nil || removed != 1 {
		t.Fatalf("expected one expired record removed, got %d %v", removed, err)
	}
	res, err := store.Reserve(ctx, "new", "fp", fixedTime.Add(10*time.Minute), time.Hour)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected live record to survive cleanup, got %+v %v", res, err)
	}
}

func TestMemoryStoreCleanupRemovesOldestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i, key := range []string{"a", "b", "c"} {
		if _, err := store.Reserve(ctx, key, "fp", fixedTime, time.Duration(i+1)*time.Minute); err != nil {
			t.Fatalf("reserve %s: %v", key, err)
		}
	}

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(time.Hour), 2)
	if err != nil || removed != 2 {
		t.Fatalf("expected two records removed, got %d %v", removed, err)
	}
	if _, ok := store.records[documentID("c")]; !ok {
		t.Fatalf("expected the latest expiry to survive a limited cleanup")
	}
}

func TestMemoryStoreReleaseKeepsOtherFingerprints(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "order-1", "fp-a", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := store.Release(ctx, "order-1", "fp-b"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := store.Reserve(ctx, "order-1", "fp-b", fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected reservation to survive a foreign release, got %v", err)
	}

	if err := store.Release(ctx, "order-1", "fp-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	res, err := store.Reserve(ctx, "order-1", "fp-b", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected key to be free after owner release, got %+v %v", res, err)
	}
}

func TestMemoryStoreExpiredReservationIsReplaced(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.SaveResponse(ctx, "order-2", "fp-a", Response{Status: http.StatusCreated, Body: []byte("{}")}, fixedTime, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	res, err := store.Reserve(ctx, "order-2", "fp-a", fixedTime.Add(30*time.Second), time.Hour)
	if err != nil || res.State != ReservationStateCompleted || res.Record.ResponseStatus != http.StatusCreated {
		t.Fatalf("expected stored response to replay, got %+v %v", res, err)
	}

	res, err = store.Reserve(ctx, "order-2", "fp-b", fixedTime.Add(time.Minute), time.Hour)
	if err != nil || res.State != ReservationStateNew || res.Record.Fingerprint != "fp-b" {
		t.Fatalf("expected expired record to be replaced, got %+v %v", res, err)
	}
}

func TestRunJanitorStopsWithContext(t *testing.T) {
	store := &stubStore{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunJanitor(ctx, store, time.Millisecond, 10, nil)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.cleanupCalls() == 0 {
		select {
		case <-deadline:
			t.Fatal("janitor never swept")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}

type stubStore struct {
	mu         sync.Mutex
	reserveErr error
	failSave   bool
	saved      bool
	released   bool
	cleanups   int
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	if s.reserveErr != nil {
		return Reservation{}, s.reserveErr
	}
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	s.saved = true
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups++
	return 0, nil
}

func (s *stubStore) cleanupCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanups
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
