package idempotency

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carepoint-rx/api/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

func newRequest(method, body, key, uid string) *http.Request {
	req := httptest.NewRequest(method, "/api/v1/orders/o-1/confirm", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RolePatient}}))
	}
	return req
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"confirmed"}`))
	})
}

func TestMiddleware_PassesThroughWithoutKey(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusOK))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), newRequest(http.MethodPut, `{}`, "", "p-1"))
	}
	if calls != 2 {
		t.Fatalf("expected both requests to reach handler, got %d", calls)
	}
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusOK))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest(http.MethodPut, `{}`, "k-1", "p-1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest(http.MethodPut, `{}`, "k-1", "p-1"))

	if calls != 1 {
		t.Fatalf("expected a single handler call, got %d", calls)
	}
	if second.Code != http.StatusOK || second.Body.String() != first.Body.String() {
		t.Fatalf("expected identical replay, got %d %q", second.Code, second.Body.String())
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatal("expected replay header")
	}
}

func TestMiddleware_KeysScopedPerCaller(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest(http.MethodPut, `{}`, "shared", "p-1"))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest(http.MethodPut, `{}`, "shared", "p-2"))
	if calls != 2 {
		t.Fatalf("expected different callers not to share keys, got %d calls", calls)
	}
}

func TestMiddleware_RejectsReusedKeyWithDifferentBody(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest(http.MethodPut, `{"a":1}`, "k-2", "p-1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(http.MethodPut, `{"a":2}`, "k-2", "p-1"))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if calls != 1 {
		t.Fatalf("expected handler not to run for mismatched body, got %d", calls)
	}
}

func TestMiddleware_ServerErrorsAreRetryable(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusServiceUnavailable))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest(http.MethodPut, `{}`, "k-3", "p-1"))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest(http.MethodPut, `{}`, "k-3", "p-1"))
	if calls != 2 {
		t.Fatalf("expected retry after 5xx to reach handler, got %d", calls)
	}
}

func TestMemoryStore_InFlightAndExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if claim, err := store.Claim(ctx, "k", "fp", fixedTime, time.Minute); err != nil || claim.State != StateClaimed {
		t.Fatalf("expected claimed, got %+v (%v)", claim, err)
	}
	if claim, err := store.Claim(ctx, "k", "fp", fixedTime, time.Minute); err != nil || claim.State != StateInFlight {
		t.Fatalf("expected in flight, got %+v (%v)", claim, err)
	}
	if claim, err := store.Claim(ctx, "k", "other", fixedTime.Add(2*time.Minute), time.Minute); err != nil || claim.State != StateClaimed {
		t.Fatalf("expected expired key to be reclaimable, got %+v (%v)", claim, err)
	}
}
