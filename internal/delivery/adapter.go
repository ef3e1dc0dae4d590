// Package delivery routes one rendered message to the provider adapter
// for its channel kind and normalizes whatever comes back. Providers are
// black boxes with a send capability; their protocols live behind the
// Adapter interface.
package delivery

import "context"

// Typed provider failures. Everything an adapter returns is one of these
// wrapped, or it is treated as ProviderUnavailable.
type ProviderError struct {
	Kind    ProviderErrorKind
	Message string
}

// ProviderErrorKind classifies adapter failures for retry decisions.
type ProviderErrorKind string

const (
	ErrInvalidAddress      ProviderErrorKind = "invalid_address"
	ErrProviderAuth        ProviderErrorKind = "provider_auth"
	ErrProviderRateLimited ProviderErrorKind = "provider_rate_limited"
	ErrProviderTimeout     ProviderErrorKind = "provider_timeout"
	ErrProviderUnavailable ProviderErrorKind = "provider_unavailable"
)

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind)
}

// Retryable reports whether the failure may be transient. Invalid
// recipient addresses never heal on retry; everything else might.
func (e *ProviderError) Retryable() bool {
	return e.Kind != ErrInvalidAddress
}

// SendRequest is the channel-agnostic payload handed to an adapter.
type SendRequest struct {
	MessageID int64
	Address   string
	Subject   string
	Body      string
	Text      string
}

// Adapter is the send capability of one channel provider. ProviderRef is
// the provider's identifier for the accepted message. Failures must be
// returned as *ProviderError; the router defends against anything else.
type Adapter interface {
	Send(ctx context.Context, req *SendRequest) (providerRef string, err error)
}
