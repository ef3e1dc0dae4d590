package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAllow_WithinLimit(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), testLogger())
	rule := Rule{Name: "test", Limit: 3, Window: time.Hour}

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(context.Background(), rule, "user:1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
}

func TestAllow_ExceedsLimit(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), testLogger())
	rule := Rule{Name: "create_campaign", Limit: 2, Window: time.Hour}

	for i := 0; i < 2; i++ {
		ok, _ := limiter.Allow(context.Background(), rule, "user:7")
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	ok, err := limiter.Allow(context.Background(), rule, "user:7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("third request within the window should be rejected")
	}
}

func TestAllow_SeparateActors(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), testLogger())
	rule := Rule{Name: "test", Limit: 1, Window: time.Hour}

	if ok, _ := limiter.Allow(context.Background(), rule, "user:1"); !ok {
		t.Fatal("first actor should be allowed")
	}
	if ok, _ := limiter.Allow(context.Background(), rule, "user:2"); !ok {
		t.Error("second actor has its own window and should be allowed")
	}
}

func TestAllow_WindowSlides(t *testing.T) {
	store := NewMemoryStore().(*memoryStore)
	limiter := NewLimiter(store, testLogger())
	rule := Rule{Name: "test", Limit: 1, Window: time.Hour}

	// Backdate the first hit beyond the window
	store.hits["ratelimit:test:user:1"] = []time.Time{time.Now().Add(-2 * time.Hour)}

	ok, _ := limiter.Allow(context.Background(), rule, "user:1")
	if !ok {
		t.Error("hit outside the window should not count against the limit")
	}
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Duration, time.Time) (int, error) {
	return 0, errors.New("store down")
}

func TestAllow_FailsOpen(t *testing.T) {
	limiter := NewLimiter(failingStore{}, testLogger())

	ok, err := limiter.Allow(context.Background(), RuleSendMessage, "user:1")
	if err != nil {
		t.Fatalf("store failure should not surface as an error: %v", err)
	}
	if !ok {
		t.Error("limiter should fail open when the store is unavailable")
	}
}
