package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adimian/kabuto/internal/store"

	"github.com/google/uuid"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func limitedRequest(user *store.User) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	return req.WithContext(NewContextWithUser(context.Background(), user))
}

func TestRateLimit_Throttles(t *testing.T) {
	user := &store.User{ID: uuid.New(), Login: "alice", RateLimit: 1, RateLimitBurst: 2}
	handler := RateLimit()(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, limitedRequest(user))
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("burst requests should pass: %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request should be throttled: %v", codes)
	}
}

func TestRateLimit_ZeroMeansUnlimited(t *testing.T) {
	user := &store.User{ID: uuid.New(), Login: "alice"}
	handler := RateLimit()(okHandler())

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, limitedRequest(user))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d throttled despite unlimited user", i)
		}
	}
}

func TestRateLimit_PerUser(t *testing.T) {
	userA := &store.User{ID: uuid.New(), Login: "a", RateLimit: 1, RateLimitBurst: 1}
	userB := &store.User{ID: uuid.New(), Login: "b", RateLimit: 1, RateLimitBurst: 1}
	handler := RateLimit()(okHandler())

	// Exhaust A's budget.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest(userA))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest(userA))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected A throttled, got %d", rec.Code)
	}

	// B is unaffected.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest(userB))
	if rec.Code != http.StatusOK {
		t.Errorf("B throttled by A's limiter: %d", rec.Code)
	}
}

func TestRateLimit_Unauthenticated(t *testing.T) {
	handler := RateLimit()(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want 401", rec.Code)
	}
}
