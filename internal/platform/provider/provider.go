// Package provider wraps the external payment rails (Stripe for card,
// M-Pesa for mobile money) behind small interfaces the payment service
// can mock in tests.
package provider

import "context"

// IntentStatus is the provider-side state of a payment attempt.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
	IntentCanceled  IntentStatus = "canceled"
)

// Intent is a provider payment attempt. ProviderRef is the id the
// provider's callbacks will reference (Stripe payment intent id, M-Pesa
// checkout request id).
type Intent struct {
	ProviderRef  string
	ClientSecret string
	Status       IntentStatus
}

// CardProvider creates and inspects card payment intents. Amounts are in
// currency storage units, which match the provider's minor units.
type CardProvider interface {
	CreateIntent(ctx context.Context, amountUnits int64, currency string, metadata map[string]string) (*Intent, error)
	GetIntent(ctx context.Context, providerRef string) (*Intent, error)
	Refund(ctx context.Context, providerRef string, amountUnits int64, reason string) (refundID string, err error)
}

// MobileMoneyProvider initiates STK push charges. The returned
// ProviderRef is the checkout request id echoed back by the callback.
type MobileMoneyProvider interface {
	RequestPayment(ctx context.Context, phone string, amountUnits int64, currency, reference, description string) (*Intent, error)
}
