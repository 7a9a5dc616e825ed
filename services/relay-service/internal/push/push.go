package push

import (
	"context"
	"fmt"
)

// ErrorKind classifies a failed push delivery attempt.
type ErrorKind string

const (
	ErrInvalidToken ErrorKind = "invalid_token"
	ErrUnreachable  ErrorKind = "unreachable"
	ErrThrottled    ErrorKind = "throttled"
	ErrTimeout      ErrorKind = "timeout"
)

// DeliveryError scopes a failure to a single delivery attempt. It never
// aborts processing of other events.
type DeliveryError struct {
	Kind   ErrorKind
	Reason string
}

func (e *DeliveryError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("push delivery failed: %s", e.Kind)
	}
	return fmt.Sprintf("push delivery failed: %s: %s", e.Kind, e.Reason)
}

// Sender is the contract with the external push provider. Implementations
// own the wire format; the relay only depends on this interface.
type Sender interface {
	Send(ctx context.Context, token string, title string, body string, data map[string]string) (string, error)
	ProviderID() string
}

type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "push-noop"
}

func (s *NoopSender) Send(_ context.Context, _ string, _ string, _ string, _ map[string]string) (string, error) {
	return "noop", nil
}
