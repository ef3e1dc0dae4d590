package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Rule describes a sliding-window limit: at most Limit hits per Window.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Default rules for the write endpoints.
var (
	RuleSendMessage    = Rule{Name: "send_message", Limit: 100, Window: time.Hour}
	RuleCreateCampaign = Rule{Name: "create_campaign", Limit: 10, Window: time.Hour}
	RuleBulkSend       = Rule{Name: "bulk_send", Limit: 5, Window: 24 * time.Hour}
)

// Store records hit timestamps per key and counts how many fall inside
// the current window.
type Store interface {
	// Hit records an occurrence at now and returns the number of hits
	// within (now - window, now], including this one.
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int, error)
}

// Limiter enforces sliding-window rules over a Store.
type Limiter struct {
	store  Store
	logger *slog.Logger
}

// NewLimiter creates a rate limiter
func NewLimiter(store Store, logger *slog.Logger) *Limiter {
	return &Limiter{store: store, logger: logger}
}

// Allow records a hit for the actor under the rule and reports whether
// it stays within the limit. Store failures fail open: limiting is a
// safeguard, not a correctness requirement.
func (l *Limiter) Allow(ctx context.Context, rule Rule, actor string) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", rule.Name, actor)

	count, err := l.store.Hit(ctx, key, rule.Window, time.Now())
	if err != nil {
		l.logger.Error("rate limit store unavailable, allowing request",
			slog.String("rule", rule.Name),
			slog.String("error", err.Error()),
		)
		return true, nil
	}

	if count > rule.Limit {
		l.logger.Warn("rate limit exceeded",
			slog.String("rule", rule.Name),
			slog.String("actor", actor),
			slog.Int("count", count),
			slog.Int("limit", rule.Limit),
		)
		return false, nil
	}

	return true, nil
}
