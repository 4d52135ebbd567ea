package gateway

import (
	"context"

	"github.com/oklog/ulid/v2"

	"subscription-billing/internal/domain/ports/adapter"
)

// NoopGateway approves every charge. Used in dev mode and by the demo
// config so the engine can run without provider credentials.
type NoopGateway struct{}

func NewNoopGateway() *NoopGateway { return &NoopGateway{} }

func (g *NoopGateway) Name() string { return "noop" }

func (g *NoopGateway) Charge(ctx context.Context, accountID string, amount int64, currency, idempotencyKey string, meta map[string]any) (string, error) {
	return "noop-" + ulid.Make().String(), nil
}

var _ adapter.PaymentGateway = (*NoopGateway)(nil)
