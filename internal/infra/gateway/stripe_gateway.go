package gateway

import (
	"context"
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/paymentintent"

	"subscription-billing/internal/domain/ports/adapter"
)

// StripeGateway charges stored instruments through PaymentIntents with
// confirm+off_session, the server-initiated recurring-charge flow.
type StripeGateway struct{}

func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{}
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) Charge(ctx context.Context, accountID string, amount int64, currency, idempotencyKey string, meta map[string]any) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:     stripe.Int64(amount),
		Currency:   stripe.String(currency),
		Customer:   stripe.String(accountID),
		Confirm:    stripe.Bool(true),
		OffSession: stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	for k, v := range meta {
		params.AddMetadata(k, fmt.Sprint(v))
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", classify(err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return "", &adapter.GatewayError{
			Code:      string(pi.Status),
			Message:   "payment intent not succeeded",
			Retryable: true,
		}
	}
	return pi.ID, nil
}

// classify maps a stripe error to the gateway port's taxonomy. Transport
// errors pass through untouched so callers can tell them apart from a
// provider verdict.
func classify(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return err
	}
	ge := &adapter.GatewayError{Code: string(se.Code), Message: se.Msg}
	switch se.Type {
	case stripe.ErrorTypeCard:
		// hard declines never recover; soft declines are worth the schedule
		switch se.DeclineCode {
		case stripe.DeclineCodeInsufficientFunds,
			stripe.DeclineCodeTryAgainLater,
			stripe.DeclineCodeProcessingError:
			ge.Retryable = true
		}
	case stripe.ErrorTypeAPI:
		ge.Retryable = true
	}
	return ge
}

var _ adapter.PaymentGateway = (*StripeGateway)(nil)
