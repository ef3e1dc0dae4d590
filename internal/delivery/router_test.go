package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/thogmi/comms-backend/internal/models"
)

type stubAdapter struct {
	ref  string
	err  error
	last *SendRequest
}

func (a *stubAdapter) Send(ctx context.Context, req *SendRequest) (string, error) {
	a.last = req
	if a.err != nil {
		return "", a.err
	}
	return a.ref, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func emailChannel() *models.Channel {
	return &models.Channel{ID: 1, Name: "Primary Email", Kind: models.ChannelEmail, IsActive: true}
}

func recipient() *models.User {
	return &models.User{ID: 7, Email: "jane@example.com", Phone: "+254700000001"}
}

func TestNewRouter_RejectsUnknownKind(t *testing.T) {
	_, err := NewRouter(map[string]Adapter{"fax": &stubAdapter{}}, testLogger())
	if err == nil {
		t.Fatal("unknown channel kind must be rejected")
	}
}

func TestDeliver_Success(t *testing.T) {
	adapter := &stubAdapter{ref: "msg-abc"}
	router, _ := NewRouter(map[string]Adapter{models.ChannelEmail: adapter}, testLogger())

	msg := &models.Message{ID: 1, Subject: "Hi", Body: "<p>Hello</p>"}
	result := router.Deliver(context.Background(), msg, emailChannel(), recipient())

	if result.Status != StatusSent {
		t.Fatalf("expected sent, got %s (%v)", result.Status, result.Err)
	}
	if result.ProviderRef != "msg-abc" {
		t.Errorf("expected provider ref msg-abc, got %q", result.ProviderRef)
	}
	if adapter.last.Address != "jane@example.com" {
		t.Errorf("expected email address, got %q", adapter.last.Address)
	}
}

func TestDeliver_TextOnlyChannelStripsMarkup(t *testing.T) {
	adapter := &stubAdapter{ref: "sms-1"}
	router, _ := NewRouter(map[string]Adapter{models.ChannelSMS: adapter}, testLogger())

	channel := &models.Channel{ID: 2, Name: "SMS", Kind: models.ChannelSMS, IsActive: true}
	msg := &models.Message{ID: 1, Body: "<p>Service at <b>10am</b></p>"}

	result := router.Deliver(context.Background(), msg, channel, recipient())
	if result.Status != StatusSent {
		t.Fatalf("expected sent, got %s (%v)", result.Status, result.Err)
	}
	if adapter.last.Text != "Service at 10am" {
		t.Errorf("expected stripped text, got %q", adapter.last.Text)
	}
	if adapter.last.Address != "+254700000001" {
		t.Errorf("sms should use the phone number, got %q", adapter.last.Address)
	}
}

func TestDeliver_InactiveChannel(t *testing.T) {
	router, _ := NewRouter(map[string]Adapter{models.ChannelEmail: &stubAdapter{}}, testLogger())

	channel := emailChannel()
	channel.IsActive = false

	result := router.Deliver(context.Background(), &models.Message{ID: 1}, channel, recipient())
	if result.Status != StatusFailed {
		t.Fatal("inactive channel must fail, not silently no-op")
	}
	var unsupported *models.UnsupportedChannelError
	if !errors.As(result.Err, &unsupported) {
		t.Errorf("expected UnsupportedChannelError, got %v", result.Err)
	}
}

func TestDeliver_NoAdapterForKind(t *testing.T) {
	router, _ := NewRouter(map[string]Adapter{models.ChannelEmail: &stubAdapter{}}, testLogger())

	channel := &models.Channel{ID: 3, Name: "Push", Kind: models.ChannelPush, IsActive: true}
	result := router.Deliver(context.Background(), &models.Message{ID: 1}, channel, recipient())

	var unsupported *models.UnsupportedChannelError
	if !errors.As(result.Err, &unsupported) {
		t.Fatalf("expected UnsupportedChannelError, got %v", result.Err)
	}
	// May be retried: an adapter could be registered later
	if !Retryable(result.Err) {
		t.Error("unsupported channel should be retryable")
	}
}

func TestDeliver_MissingAddress(t *testing.T) {
	router, _ := NewRouter(map[string]Adapter{models.ChannelSMS: &stubAdapter{}}, testLogger())

	channel := &models.Channel{ID: 2, Name: "SMS", Kind: models.ChannelSMS, IsActive: true}
	noPhone := &models.User{ID: 8, Email: "nophone@example.com"}

	result := router.Deliver(context.Background(), &models.Message{ID: 1}, channel, noPhone)
	if result.Status != StatusFailed {
		t.Fatal("missing address must fail")
	}
	var provErr *ProviderError
	if !errors.As(result.Err, &provErr) || provErr.Kind != ErrInvalidAddress {
		t.Fatalf("expected invalid_address, got %v", result.Err)
	}
	if Retryable(result.Err) {
		t.Error("a missing address never heals on retry")
	}
}

func TestDeliver_NormalizesUnknownErrors(t *testing.T) {
	adapter := &stubAdapter{err: errors.New("connection reset by peer")}
	router, _ := NewRouter(map[string]Adapter{models.ChannelEmail: adapter}, testLogger())

	result := router.Deliver(context.Background(), &models.Message{ID: 1}, emailChannel(), recipient())

	var provErr *ProviderError
	if !errors.As(result.Err, &provErr) {
		t.Fatalf("expected normalized ProviderError, got %T", result.Err)
	}
	if provErr.Kind != ErrProviderUnavailable {
		t.Errorf("unknown errors normalize to provider_unavailable, got %s", provErr.Kind)
	}
	if !Retryable(result.Err) {
		t.Error("provider outage should be retryable")
	}
}

func TestDeliver_NormalizesTimeout(t *testing.T) {
	adapter := &stubAdapter{err: context.DeadlineExceeded}
	router, _ := NewRouter(map[string]Adapter{models.ChannelEmail: adapter}, testLogger())

	result := router.Deliver(context.Background(), &models.Message{ID: 1}, emailChannel(), recipient())

	var provErr *ProviderError
	if !errors.As(result.Err, &provErr) || provErr.Kind != ErrProviderTimeout {
		t.Fatalf("expected provider_timeout, got %v", result.Err)
	}
}
