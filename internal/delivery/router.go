package delivery

import (
	"context"
	"errors"
	"log/slog"

	"github.com/thogmi/comms-backend/internal/models"
	"github.com/thogmi/comms-backend/internal/template"
)

// Result statuses
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Result is the normalized outcome of one delivery attempt.
type Result struct {
	Status      string
	ProviderRef string
	Err         error
}

// Router owns the fixed mapping from channel kind to adapter, resolved
// once at startup. It is stateless per call; no ordering is implied
// across recipients.
type Router struct {
	adapters map[string]Adapter
	logger   *slog.Logger
}

// NewRouter builds a router over the given adapter table. Kinds outside
// the fixed channel enumeration are rejected.
func NewRouter(adapters map[string]Adapter, logger *slog.Logger) (*Router, error) {
	for kind := range adapters {
		if !models.IsValidChannelKind(kind) {
			return nil, models.ErrInvalidInput("unknown channel kind in adapter table: " + kind)
		}
	}
	return &Router{adapters: adapters, logger: logger}, nil
}

// Deliver sends one fully-rendered message through the adapter for its
// channel. An inactive channel or a kind with no adapter is a hard
// UnsupportedChannel failure, never a silent no-op. Adapter failures are
// caught and normalized; no provider-specific error escapes.
func (r *Router) Deliver(ctx context.Context, msg *models.Message, channel *models.Channel, recipient *models.User) Result {
	if !channel.IsActive {
		return Result{Status: StatusFailed, Err: &models.UnsupportedChannelError{Kind: channel.Kind}}
	}
	adapter, ok := r.adapters[channel.Kind]
	if !ok {
		return Result{Status: StatusFailed, Err: &models.UnsupportedChannelError{Kind: channel.Kind}}
	}

	address := recipient.AddressFor(channel.Kind)
	if address == "" {
		return Result{Status: StatusFailed, Err: &ProviderError{
			Kind:    ErrInvalidAddress,
			Message: "recipient has no address for channel " + channel.Kind,
		}}
	}

	req := &SendRequest{
		MessageID: msg.ID,
		Address:   address,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Text:      msg.Body,
	}
	if models.IsTextOnlyChannel(channel.Kind) {
		req.Text = template.StripTags(msg.Body)
	}

	providerRef, err := adapter.Send(ctx, req)
	if err != nil {
		return Result{Status: StatusFailed, Err: normalize(err)}
	}

	r.logger.Debug("message delivered to provider",
		slog.Int64("message_id", msg.ID),
		slog.String("channel", channel.Kind),
		slog.String("provider_ref", providerRef),
	)

	return Result{Status: StatusSent, ProviderRef: providerRef}
}

// normalize folds any adapter error into the typed taxonomy.
func normalize(err error) error {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Kind: ErrProviderTimeout, Message: err.Error()}
	}
	return &ProviderError{Kind: ErrProviderUnavailable, Message: err.Error()}
}

// Retryable reports whether a delivery failure may be retried under the
// backoff policy. UnsupportedChannel counts as possibly transient: the
// channel may be reactivated or an adapter registered.
func Retryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable()
	}
	var unsupported *models.UnsupportedChannelError
	return errors.As(err, &unsupported)
}
