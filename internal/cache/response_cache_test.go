package cache

import (
	"net/url"
	"testing"
	"time"
)

func TestKey_StableUnderQueryOrder(t *testing.T) {
	a := Key("user:1", "/api/v1/campaigns", url.Values{"page": {"2"}, "page_size": {"20"}})
	b := Key("user:1", "/api/v1/campaigns", url.Values{"page_size": {"20"}, "page": {"2"}})

	if a != b {
		t.Errorf("expected identical keys for reordered query, got %s and %s", a, b)
	}
}

func TestKey_VariesByInput(t *testing.T) {
	base := Key("user:1", "/api/v1/campaigns", url.Values{"page": {"1"}})

	tests := []struct {
		name  string
		actor string
		path  string
		query url.Values
	}{
		{"different actor", "user:2", "/api/v1/campaigns", url.Values{"page": {"1"}}},
		{"different path", "user:1", "/api/v1/templates", url.Values{"page": {"1"}}},
		{"different query value", "user:1", "/api/v1/campaigns", url.Values{"page": {"2"}}},
		{"extra parameter", "user:1", "/api/v1/campaigns", url.Values{"page": {"1"}, "status": {"sent"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.actor, tt.path, tt.query); got == base {
				t.Errorf("expected a distinct key, got the base key %s", got)
			}
		})
	}
}

func TestTTLFor(t *testing.T) {
	tests := []struct {
		path string
		want time.Duration
	}{
		{"/api/v1/templates", 5 * time.Minute},
		{"/api/v1/templates/7", 5 * time.Minute},
		{"/api/v1/channels", 10 * time.Minute},
		{"/api/v1/campaigns/3/performance", 3 * time.Minute},
		{"/api/v1/users/9/preferences", defaultTTL},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := TTLFor(tt.path); got != tt.want {
				t.Errorf("TTLFor(%s) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
