package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIdempotencyMiddlewareReplaysSuccess(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)

	calls := 0
	handler := IdempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"call":%d}`, calls)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/admin/actions", nil)
		req.Header.Set("Idempotency-Key", "key_1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	first := do()
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}

	second := do()
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Error("replay header missing")
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("replayed body %q != original %q", second.Body.String(), first.Body.String())
	}
}

func TestIdempotencyMiddlewareDoesNotCacheErrors(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)

	calls := 0
	handler := IdempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			WriteBadGateway(w, "processor down")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/x", nil)
		req.Header.Set("Idempotency-Key", "key_err")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	// The failed first attempt stayed retryable.
	if calls != 2 {
		t.Fatalf("handler ran %d times, want 2", calls)
	}
}

func TestIdempotencyMiddlewareIgnoresReadsAndMissingKeys(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)

	calls := 0
	handler := IdempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	get := httptest.NewRequest("GET", "/x", nil)
	get.Header.Set("Idempotency-Key", "key_get")
	handler.ServeHTTP(httptest.NewRecorder(), get)
	handler.ServeHTTP(httptest.NewRecorder(), get)

	post := httptest.NewRequest("POST", "/x", nil)
	handler.ServeHTTP(httptest.NewRecorder(), post)
	handler.ServeHTTP(httptest.NewRecorder(), post)

	if calls != 4 {
		t.Fatalf("handler ran %d times, want 4", calls)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewIdempotencyStore(time.Nanosecond)
	store.Set("k", http.StatusOK, http.Header{}, []byte("x"))
	time.Sleep(time.Millisecond)
	if _, ok := store.Check("k"); ok {
		t.Error("expired entry returned")
	}
}
