package adapter

import (
	"context"
	"fmt"
)

// GatewayError is a classified failure from the payment provider. Retryable
// failures drive the dunning schedule; non-retryable ones (e.g. a card
// permanently declined) exhaust it immediately.
type GatewayError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// PaymentGateway is the hex port for payment providers.
type PaymentGateway interface {
	Name() string
	// Charge captures amount (minor units) against the account's stored
	// instrument. The idempotency key guarantees a network-level retry of
	// the same attempt never double-charges. Returns the provider
	// transaction reference on success; failures are *GatewayError where
	// the provider responded, plain errors for transport problems.
	Charge(ctx context.Context, accountID string, amount int64, currency, idempotencyKey string, meta map[string]any) (ref string, err error)
}
