package idempotency

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var fixedTime = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func newGuardedHandler(store Store, calls *int, status int) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"summary":{"success":2}}`))
	})
	return Middleware(store, WithClock(func() time.Time { return fixedTime }))(next)
}

func bulkRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/bulk-status", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderName, key)
	}
	return req
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	code, _ := payload["error"].(string)
	return code
}

func TestMiddlewareRequiresKey(t *testing.T) {
	var calls int
	handler := newGuardedHandler(NewMemoryStore(), &calls, http.StatusOK)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, bulkRequest("", `{"order_ids":["o1"]}`))
	if rr.Code != http.StatusBadRequest || calls != 0 {
		t.Fatalf("expected 400 without handler call, got %d calls=%d", rr.Code, calls)
	}
	if code := errorCode(t, rr.Body.Bytes()); code != "idempotency_key_required" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestMiddlewareReplaysResponse(t *testing.T) {
	var calls int
	handler := newGuardedHandler(NewMemoryStore(), &calls, http.StatusOK)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, bulkRequest("bulk-1", `{"order_ids":["o1","o2"]}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, bulkRequest("bulk-1", `{"order_ids":["o1","o2"]}`))

	if calls != 1 {
		t.Fatalf("handler should run once, ran %d times", calls)
	}
	if second.Code != http.StatusOK || second.Body.String() != first.Body.String() {
		t.Fatalf("replay mismatch: %d %q vs %q", second.Code, second.Body.String(), first.Body.String())
	}
	if second.Header().Get(ReplayHeader) != "true" || first.Header().Get(ReplayHeader) != "" {
		t.Fatalf("only the replay should be marked")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("replayed headers missing")
	}
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	var calls int
	handler := newGuardedHandler(NewMemoryStore(), &calls, http.StatusOK)

	handler.ServeHTTP(httptest.NewRecorder(), bulkRequest("bulk-1", `{"order_ids":["o1"]}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, bulkRequest("bulk-1", `{"order_ids":["o2"]}`))

	if rr.Code != http.StatusConflict || calls != 1 {
		t.Fatalf("expected 409, got %d calls=%d", rr.Code, calls)
	}
	if code := errorCode(t, rr.Body.Bytes()); code != "idempotency_key_conflict" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestMiddlewareReportsInFlightKey(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	handler := newGuardedHandler(store, &calls, http.StatusOK)

	req := bulkRequest("bulk-1", `{}`)
	body := []byte(`{}`)
	if _, err := store.Reserve(req.Context(), "anonymous|bulk-1", fingerprintOf(req, body, "anonymous"), fixedTime, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict || calls != 0 {
		t.Fatalf("expected in-progress conflict, got %d calls=%d", rr.Code, calls)
	}
	if code := errorCode(t, rr.Body.Bytes()); code != "idempotency_in_progress" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	var calls int
	handler := newGuardedHandler(NewMemoryStore(), &calls, http.StatusServiceUnavailable)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, bulkRequest("refund-1", `{"amount":100}`))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("attempt %d: unexpected status %d", i, rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("server errors must allow a retry, calls=%d", calls)
	}
}

func TestMiddlewareWithoutStorePassesThrough(t *testing.T) {
	var calls int
	handler := newGuardedHandler(nil, &calls, http.StatusOK)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, bulkRequest("", `{}`))
	if rr.Code != http.StatusOK || calls != 1 {
		t.Fatalf("nil store should disable the guard")
	}
}
