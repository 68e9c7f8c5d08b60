package payment

import (
	"context"
)

// Events receives notifications after a payment state change has
// committed. notify.Notifier satisfies it.
type Events interface {
	Publish(ctx context.Context, eventType, resourceID string, payload any)
}

type noopEvents struct{}

func (noopEvents) Publish(context.Context, string, string, any) {}

type eventPayload struct {
	PaymentNumber string `json:"payment_number"`
	TransactionID string `json:"transaction_id"`
	InvoiceID     string `json:"invoice_id"`
	AmountUnits   int64  `json:"amount_units"`
	CurrencyCode  string `json:"currency_code"`
	Method        string `json:"method"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

func (s *Service) publish(ctx context.Context, eventType string, p *Payment, reason string) {
	s.events.Publish(ctx, eventType, p.TransactionID, eventPayload{
		PaymentNumber: p.PaymentNumber,
		TransactionID: p.TransactionID,
		InvoiceID:     p.InvoiceID.String(),
		AmountUnits:   p.AmountUnits,
		CurrencyCode:  p.CurrencyCode,
		Method:        p.Method,
		Status:        p.Status,
		Reason:        reason,
	})
}
