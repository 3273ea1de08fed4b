package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payledger/internal/domain/auth"
	"payledger/internal/requestctx"
)

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func TestWriteRateLimitUsesUserKeyBeforeIPFallback(t *testing.T) {
	limited := WriteRateLimit(1, time.Minute, nil)(http.HandlerFunc(noContent))
	userCtx := requestctx.WithUser(context.Background(), auth.UserContext{UserID: "user-1", Role: auth.RoleHR})

	first := httptest.NewRequest(http.MethodPost, "/api/v1/adjustments", nil).WithContext(userCtx)
	first.RemoteAddr = "198.51.100.11:2222"
	firstRec := httptest.NewRecorder()
	limited.ServeHTTP(firstRec, first)
	if firstRec.Code != http.StatusNoContent {
		t.Fatalf("expected first request to pass, got %d", firstRec.Code)
	}

	second := httptest.NewRequest(http.MethodPatch, "/api/v1/adjustments/a1", nil).WithContext(userCtx)
	second.RemoteAddr = "198.51.100.12:3333"
	secondRec := httptest.NewRecorder()
	limited.ServeHTTP(secondRec, second)
	if secondRec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled by user key, got %d", secondRec.Code)
	}
	if secondRec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestWriteRateLimitFallsBackToIP(t *testing.T) {
	limited := WriteRateLimit(1, time.Minute, nil)(http.HandlerFunc(noContent))

	first := httptest.NewRequest(http.MethodDelete, "/api/v1/adjustments/a1", nil)
	first.RemoteAddr = "203.0.113.10:4444"
	firstRec := httptest.NewRecorder()
	limited.ServeHTTP(firstRec, first)
	if firstRec.Code != http.StatusNoContent {
		t.Fatalf("expected first request to pass, got %d", firstRec.Code)
	}

	other := httptest.NewRequest(http.MethodDelete, "/api/v1/adjustments/a1", nil)
	other.RemoteAddr = "203.0.113.11:4444"
	otherRec := httptest.NewRecorder()
	limited.ServeHTTP(otherRec, other)
	if otherRec.Code != http.StatusNoContent {
		t.Fatalf("expected other address to pass, got %d", otherRec.Code)
	}

	again := httptest.NewRequest(http.MethodDelete, "/api/v1/adjustments/a1", nil)
	again.RemoteAddr = "203.0.113.10:5555"
	againRec := httptest.NewRecorder()
	limited.ServeHTTP(againRec, again)
	if againRec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected repeat address to be throttled, got %d", againRec.Code)
	}
}

func TestWriteRateLimitSkipsReads(t *testing.T) {
	limited := WriteRateLimit(1, time.Minute, nil)(http.HandlerFunc(noContent))
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payrolls", nil)
		req.RemoteAddr = "203.0.113.10:4444"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected read %d to pass, got %d", i, rec.Code)
		}
	}
}

func TestWriteRateLimitWindowResets(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(1, time.Minute, func() time.Time { return now }, nil)
	limited := rl.middleware(http.HandlerFunc(noContent))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/adjustments", nil)
		req.RemoteAddr = "203.0.113.10:4444"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send(); code != http.StatusNoContent {
		t.Fatalf("expected first request to pass, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("expected throttle, got %d", code)
	}
	now = now.Add(2 * time.Minute)
	if code := send(); code != http.StatusNoContent {
		t.Fatalf("expected reset window to pass, got %d", code)
	}
}

func TestWriteRateLimitDisabled(t *testing.T) {
	limited := WriteRateLimit(0, time.Minute, nil)(http.HandlerFunc(noContent))
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected pass with limit disabled, got %d", rec.Code)
		}
	}
}
