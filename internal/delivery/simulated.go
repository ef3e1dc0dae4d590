package delivery

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// SimulatedAdapter stands in for a real provider during development and
// load testing: it sleeps a little network latency and fails a
// configurable fraction of sends with a transient error.
type SimulatedAdapter struct {
	successRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
}

// NewSimulatedAdapter creates a simulated provider adapter.
// successRate is the probability of success (0.0 to 1.0); out-of-range
// values fall back to 0.92.
func NewSimulatedAdapter(successRate float64) *SimulatedAdapter {
	if successRate <= 0 || successRate > 1.0 {
		successRate = 0.92
	}
	return &SimulatedAdapter{
		successRate: successRate,
		minDelay:    50 * time.Millisecond,
		maxDelay:    200 * time.Millisecond,
	}
}

// Send simulates a provider call
func (s *SimulatedAdapter) Send(ctx context.Context, req *SendRequest) (string, error) {
	delay := s.minDelay + time.Duration(rand.Int63n(int64(s.maxDelay-s.minDelay)))

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return "", &ProviderError{Kind: ErrProviderTimeout, Message: ctx.Err().Error()}
	}

	if rand.Float64() > s.successRate {
		return "", &ProviderError{Kind: ErrProviderUnavailable, Message: "simulated provider outage"}
	}

	return uuid.NewString(), nil
}

// SimulatedAdapterTable returns a full adapter table with one simulated
// adapter per channel kind, for the worker binary's default wiring.
func SimulatedAdapterTable(successRate float64) map[string]Adapter {
	adapter := NewSimulatedAdapter(successRate)
	return map[string]Adapter{
		"email":  adapter,
		"sms":    adapter,
		"chat":   adapter,
		"push":   adapter,
		"in_app": adapter,
	}
}
