package payment

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/hms/hms/internal/platform/apperr"
)

// WebhookHandler receives provider callbacks. Routes registered here are
// exempt from JWT auth; Stripe calls are authenticated by signature and
// M-Pesa calls carry the checkout request id we issued.
type WebhookHandler struct {
	svc          *Service
	stripeSecret string
}

func NewWebhookHandler(svc *Service, stripeSecret string) *WebhookHandler {
	return &WebhookHandler{svc: svc, stripeSecret: stripeSecret}
}

func (h *WebhookHandler) RegisterRoutes(api *echo.Group) {
	api.POST("/payments/webhook/stripe", h.Stripe)
	api.POST("/payments/webhook/mpesa", h.Mpesa)
}

func (h *WebhookHandler) Stripe(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apperr.Validation("read webhook body: %v", err)
	}

	event, err := webhook.ConstructEvent(payload, c.Request().Header.Get("Stripe-Signature"), h.stripeSecret)
	if err != nil {
		return apperr.Wrap(err, apperr.KindWebhookAuth, "stripe signature verification failed")
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
	default:
		// Not subscribed; acknowledge and move on.
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return apperr.Validation("decode payment intent: %v", err)
	}

	ctx := c.Request().Context()
	switch event.Type {
	case "payment_intent.succeeded":
		_, err = h.svc.CompletePayment(ctx, intent.ID, "")
	case "payment_intent.payment_failed":
		reason := "payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			reason = intent.LastPaymentError.Msg
		}
		_, err = h.svc.FailPayment(ctx, intent.ID, reason)
	}
	switch {
	case apperr.IsKind(err, apperr.KindNotFound):
		// A callback for a payment we never initiated. Acknowledge so
		// the provider stops retrying, but leave a trace.
		log.Warn().Str("provider_ref", intent.ID).Str("event", string(event.Type)).
			Msg("orphan stripe webhook")
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	case apperr.IsKind(err, apperr.KindInvalidTransition):
		// Late or out-of-order delivery for a payment that already
		// reached a terminal state. Returning an error here would make
		// Stripe redeliver the same event forever.
		log.Warn().Str("provider_ref", intent.ID).Str("event", string(event.Type)).
			Msg("stale stripe webhook")
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}

// mpesaCallback mirrors the STK push result Safaricom posts back.
type mpesaCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func (cb *mpesaCallback) receiptNumber() string {
	for _, item := range cb.Body.StkCallback.CallbackMetadata.Item {
		if item.Name == "MpesaReceiptNumber" {
			if s, ok := item.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}

// Mpesa always acknowledges with a ResultCode envelope; Safaricom treats
// anything else as a delivery failure and retries indefinitely.
func (h *WebhookHandler) Mpesa(c echo.Context) error {
	ack := map[string]interface{}{"ResultCode": 0, "ResultDesc": "Accepted"}

	var cb mpesaCallback
	if err := json.NewDecoder(c.Request().Body).Decode(&cb); err != nil {
		log.Warn().Err(err).Msg("undecodable mpesa callback")
		return c.JSON(http.StatusOK, ack)
	}

	stk := cb.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		log.Warn().Msg("mpesa callback without checkout request id")
		return c.JSON(http.StatusOK, ack)
	}

	ctx := c.Request().Context()
	var err error
	if stk.ResultCode == 0 {
		var p *Payment
		receipt := cb.receiptNumber()
		p, err = h.svc.CompletePayment(ctx, stk.CheckoutRequestID, receipt)
		if err == nil && receipt != "" {
			log.Info().Str("payment", p.PaymentNumber).Str("receipt", receipt).
				Msg("mpesa payment completed")
		}
	} else {
		_, err = h.svc.FailPayment(ctx, stk.CheckoutRequestID, stk.ResultDesc)
	}

	switch {
	case apperr.IsKind(err, apperr.KindNotFound):
		log.Warn().Str("checkout_request_id", stk.CheckoutRequestID).Msg("orphan mpesa callback")
	case err != nil:
		log.Error().Err(err).Str("checkout_request_id", stk.CheckoutRequestID).
			Msg("mpesa callback processing failed")
	}
	return c.JSON(http.StatusOK, ack)
}
