package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kayakoyan/marketplace-backend/pkg/enums"
)

type countingLimiter struct {
	counts map[string]int64
	err    error
}

func (c *countingLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if c.err != nil {
		return false, 0, c.err
	}
	c.counts[scope]++
	return c.counts[scope] <= limit, c.counts[scope], nil
}

func limitedRouter(store rateLimiterStore) http.Handler {
	r := chi.NewRouter()
	r.With(RateLimit(NewRateLimitPolicy("send", time.Minute, 2), store, nil)).Post("/chats/{order}", okHandler().ServeHTTP)
	return r
}

func sendAs(h http.Handler, userID uint64, path string) int {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req = req.WithContext(WithIdentity(req.Context(), userID, "", enums.RoleCustomer))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp.Code
}

func TestRateLimitBlocksAfterLimitPerUserAndOrder(t *testing.T) {
	store := &countingLimiter{counts: map[string]int64{}}
	h := limitedRouter(store)

	for i := 0; i < 2; i++ {
		if code := sendAs(h, 7, "/chats/12"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200 got %d", i, code)
		}
	}
	if code := sendAs(h, 7, "/chats/12"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", code)
	}
	if code := sendAs(h, 7, "/chats/13"); code != http.StatusOK {
		t.Fatalf("other order should have its own window, got %d", code)
	}
	if code := sendAs(h, 8, "/chats/12"); code != http.StatusOK {
		t.Fatalf("other user should have its own window, got %d", code)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	h := limitedRouter(&countingLimiter{err: errors.New("redis down")})
	if code := sendAs(h, 7, "/chats/12"); code != http.StatusOK {
		t.Fatalf("expected 200 when limiter is unavailable, got %d", code)
	}
}
