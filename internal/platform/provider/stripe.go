package provider

import (
	"context"
	"errors"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/hms/hms/internal/platform/apperr"
)

// StripeClient implements CardProvider against the Stripe API.
type StripeClient struct {
	api *client.API
}

func NewStripeClient(apiKey string) *StripeClient {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeClient{api: api}
}

func (s *StripeClient) CreateIntent(ctx context.Context, amountUnits int64, currency string, metadata map[string]string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(amountUnits),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError(err, "create payment intent")
	}

	return &Intent{
		ProviderRef:  pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       intentStatus(pi.Status),
	}, nil
}

func (s *StripeClient) GetIntent(ctx context.Context, providerRef string) (*Intent, error) {
	pi, err := s.api.PaymentIntents.Get(providerRef, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, mapStripeError(err, "get payment intent %s", providerRef)
	}

	return &Intent{
		ProviderRef:  pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       intentStatus(pi.Status),
	}, nil
}

func (s *StripeClient) Refund(ctx context.Context, providerRef string, amountUnits int64, reason string) (string, error) {
	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(providerRef),
		Amount:        stripe.Int64(amountUnits),
	}
	// Stripe only accepts a fixed reason vocabulary; free-form reasons
	// travel in metadata.
	if reason != "" {
		params.AddMetadata("reason", reason)
	}

	ref, err := s.api.Refunds.New(params)
	if err != nil {
		return "", mapStripeError(err, "refund payment intent %s", providerRef)
	}
	return ref.ID, nil
}

func intentStatus(s stripe.PaymentIntentStatus) IntentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return IntentCanceled
	default:
		// requires_payment_method, requires_confirmation, requires_action,
		// processing: the attempt is still in flight.
		return IntentPending
	}
}

// mapStripeError folds Stripe failures into the error taxonomy: outages
// and transport failures are retriable (ProviderUnavailable), request
// rejections are not (ProviderError).
func mapStripeError(err error, format string, args ...any) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 {
			return apperr.Wrap(err, apperr.KindProviderUnavailable, format, args...)
		}
		return apperr.Wrap(err, apperr.KindProvider, format, args...)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(err, apperr.KindProviderUnavailable, format, args...)
	}
	// Unclassified errors from the SDK are treated as transport failures.
	return apperr.Wrap(err, apperr.KindProviderUnavailable, format, args...)
}
