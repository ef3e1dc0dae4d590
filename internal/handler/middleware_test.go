package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thogmi/comms-backend/internal/ratelimit"
)

func newLimitedHandler(t *testing.T, rule ratelimit.Rule, calls *int) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), logger)

	return RateLimitMiddleware(limiter, rule, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		respondSuccess(w, map[string]string{"status": "ok"})
	}))
}

func TestRateLimitMiddleware_RejectsOverLimit(t *testing.T) {
	calls := 0
	h := newLimitedHandler(t, ratelimit.RuleCreateCampaign, &calls)

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns", nil)
		req.Header.Set("X-User-ID", "42")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < ratelimit.RuleCreateCampaign.Limit; i++ {
		if rec := do(); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := do()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over the limit, got %d", rec.Code)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if resp.Error.Code != "RATE_LIMITED" {
		t.Errorf("expected RATE_LIMITED code, got %q", resp.Error.Code)
	}

	if calls != ratelimit.RuleCreateCampaign.Limit {
		t.Errorf("handler ran %d times, want %d", calls, ratelimit.RuleCreateCampaign.Limit)
	}
}

func TestRateLimitMiddleware_CallersAreIndependent(t *testing.T) {
	calls := 0
	h := newLimitedHandler(t, ratelimit.RuleBulkSend, &calls)

	do := func(caller string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/messages/bulk-send", nil)
		req.Header.Set("X-User-ID", caller)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < ratelimit.RuleBulkSend.Limit; i++ {
		if rec := do("7"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	if rec := do("7"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected caller 7 to be limited, got %d", rec.Code)
	}
	if rec := do("8"); rec.Code != http.StatusOK {
		t.Errorf("a fresh caller must not inherit another caller's window, got %d", rec.Code)
	}
}
