package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/money"
	"github.com/hms/hms/internal/platform/notify"
	"github.com/hms/hms/internal/platform/provider"
	"github.com/hms/hms/internal/platform/sequence"
)

// InvoiceLedger is the slice of the billing domain the payment service
// drives. billing.Service satisfies it.
type InvoiceLedger interface {
	GetInvoice(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
	ApplyPayment(ctx context.Context, invoiceID uuid.UUID, amountUnits int64) (*billing.Invoice, error)
	ReversePayment(ctx context.Context, invoiceID uuid.UUID, amountUnits int64) (*billing.Invoice, error)
}

const (
	txnIDAttempts = 5

	// defaultMaxRetries caps how often a failed provider payment can be
	// re-initiated before the front desk has to start a new one.
	defaultMaxRetries = 3
)

type Service struct {
	payments Repository
	ledger   InvoiceLedger
	seq      sequence.Allocator
	cards    provider.CardProvider
	mobile   provider.MobileMoneyProvider
	tx       db.Runner
	events   Events

	expiry  time.Duration
	now     func() time.Time
	newUUID func() uuid.UUID
}

func NewService(payments Repository, ledger InvoiceLedger, seq sequence.Allocator,
	cards provider.CardProvider, mobile provider.MobileMoneyProvider,
	tx db.Runner, expiry time.Duration) *Service {
	return &Service{
		payments: payments,
		ledger:   ledger,
		seq:      seq,
		cards:    cards,
		mobile:   mobile,
		tx:       tx,
		events:   noopEvents{},
		expiry:   expiry,
		now:      time.Now,
		newUUID:  uuid.New,
	}
}

// SetEvents routes committed payment state changes to an event sink.
func (s *Service) SetEvents(e Events) {
	if e != nil {
		s.events = e
	}
}

// allocateIDs stamps a payment number and a collision-checked
// transaction id onto p.
func (s *Service) allocateIDs(ctx context.Context, p *Payment) error {
	n, err := s.seq.Next(ctx, "payment")
	if err != nil {
		return err
	}
	p.PaymentNumber = fmt.Sprintf("PAY%04d", n)

	for attempt := 0; attempt < txnIDAttempts; attempt++ {
		candidate := newTransactionID(s.newUUID())
		_, err := s.payments.GetByTransactionID(ctx, candidate)
		if apperr.IsKind(err, apperr.KindNotFound) {
			p.TransactionID = candidate
			return nil
		}
		if err != nil {
			return err
		}
	}
	return apperr.New(apperr.KindIDGeneration,
		"could not allocate a unique transaction id after %d attempts", txnIDAttempts)
}

// ManualPaymentInput is a desk payment: cash, check, or bank transfer.
type ManualPaymentInput struct {
	InvoiceID         uuid.UUID
	Method            string
	AmountUnits       int64
	CashReceivedUnits *int64
	Reference         *string
	Notes             *string
	ReceivedBy        *string
}

// RecordManualPayment settles a desk payment and credits the invoice in
// one transaction.
func (s *Service) RecordManualPayment(ctx context.Context, in ManualPaymentInput) (*Payment, error) {
	switch in.Method {
	case MethodCash, MethodBankTransfer, MethodCheck:
	default:
		return nil, apperr.Validation("method %q cannot be recorded manually", in.Method)
	}
	if in.AmountUnits <= 0 {
		return nil, apperr.Validation("payment amount must be positive")
	}

	var p *Payment
	var settled *billing.Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.ledger.GetInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}

		p = &Payment{
			InvoiceID:    inv.ID,
			PatientID:    inv.PatientID,
			AmountUnits:  in.AmountUnits,
			CurrencyCode: inv.CurrencyCode,
			Method:       in.Method,
			Status:       StatusCompleted,
			Reference:    in.Reference,
			Notes:        in.Notes,
			ReceivedBy:   in.ReceivedBy,
		}

		if in.Method == MethodCash {
			if in.CashReceivedUnits == nil {
				return apperr.Validation("cash_received is required for cash payments")
			}
			if *in.CashReceivedUnits < in.AmountUnits {
				return apperr.New(apperr.KindInsufficientCashTendered,
					"cash tendered %s is less than the amount due %s",
					money.Format(*in.CashReceivedUnits, inv.CurrencyCode),
					money.Format(in.AmountUnits, inv.CurrencyCode))
			}
			change := *in.CashReceivedUnits - in.AmountUnits
			p.CashReceivedUnits = in.CashReceivedUnits
			p.ChangeDueUnits = &change
		}

		applied, err := s.ledger.ApplyPayment(ctx, inv.ID, in.AmountUnits)
		if err != nil {
			return err
		}
		if applied.IsPaid() {
			settled = applied
		}
		if err := s.allocateIDs(ctx, p); err != nil {
			return err
		}
		completed := s.now()
		p.CompletedAt = &completed
		return s.payments.Create(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notify.EventPaymentCompleted, p, "")
	if settled != nil {
		s.events.Publish(ctx, notify.EventInvoicePaid, settled.InvoiceNumber,
			map[string]string{"invoice_id": settled.ID.String()})
	}
	return p, nil
}

// RecordInsurancePayment credits an approved insurance payout against
// the invoice. Called by the claims workflow.
func (s *Service) RecordInsurancePayment(ctx context.Context, invoiceID uuid.UUID, amountUnits int64, claimNumber string) (*Payment, error) {
	if amountUnits <= 0 {
		return nil, apperr.Validation("payment amount must be positive")
	}
	var p *Payment
	var settled *billing.Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.ledger.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		insurer := ProviderInsurer
		p = &Payment{
			InvoiceID:    inv.ID,
			PatientID:    inv.PatientID,
			AmountUnits:  amountUnits,
			CurrencyCode: inv.CurrencyCode,
			Method:       MethodBankTransfer,
			Status:       StatusCompleted,
			Provider:     &insurer,
			Reference:    &claimNumber,
		}
		applied, err := s.ledger.ApplyPayment(ctx, inv.ID, amountUnits)
		if err != nil {
			return err
		}
		if applied.IsPaid() {
			settled = applied
		}
		if err := s.allocateIDs(ctx, p); err != nil {
			return err
		}
		completed := s.now()
		p.CompletedAt = &completed
		return s.payments.Create(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notify.EventPaymentCompleted, p, "")
	if settled != nil {
		s.events.Publish(ctx, notify.EventInvoicePaid, settled.InvoiceNumber,
			map[string]string{"invoice_id": settled.ID.String()})
	}
	return p, nil
}

// IntentInput starts a provider-backed payment: card via Stripe, mobile
// money via M-Pesa STK push.
type IntentInput struct {
	InvoiceID   uuid.UUID
	Method      string
	AmountUnits int64
	// Phone is the MSISDN charged for mobile money.
	Phone string
}

// CreatePaymentIntent asks the provider for an intent and records a
// pending payment. If the provider call fails no payment is recorded.
func (s *Service) CreatePaymentIntent(ctx context.Context, in IntentInput) (*Payment, error) {
	if in.AmountUnits <= 0 {
		return nil, apperr.Validation("payment amount must be positive")
	}

	inv, err := s.ledger.GetInvoice(ctx, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == billing.StatusCancelled {
		return nil, apperr.InvalidTransition("cancelled invoice cannot receive payments")
	}
	if inv.IsPaid() {
		return nil, apperr.New(apperr.KindAlreadyPaid, "invoice %s is already paid", inv.InvoiceNumber)
	}
	if in.AmountUnits > inv.BalanceUnits()+inv.Tolerance() {
		return nil, apperr.New(apperr.KindAmountExceedsBalance,
			"payment of %s exceeds balance due %s",
			money.Format(in.AmountUnits, inv.CurrencyCode),
			money.Format(inv.BalanceUnits(), inv.CurrencyCode))
	}

	p := &Payment{
		InvoiceID:    inv.ID,
		PatientID:    inv.PatientID,
		AmountUnits:  in.AmountUnits,
		CurrencyCode: inv.CurrencyCode,
		Method:       in.Method,
		Status:       StatusPending,
		MaxRetries:   defaultMaxRetries,
	}

	var intent *provider.Intent
	switch in.Method {
	case MethodCard:
		intent, err = s.cards.CreateIntent(ctx, in.AmountUnits, inv.CurrencyCode,
			map[string]string{"invoice_number": inv.InvoiceNumber, "invoice_id": inv.ID.String()})
		prov := ProviderStripe
		p.Provider = &prov
	case MethodMobileMoney:
		if in.Phone == "" {
			return nil, apperr.Validation("phone is required for mobile money payments")
		}
		intent, err = s.mobile.RequestPayment(ctx, in.Phone, in.AmountUnits, inv.CurrencyCode,
			inv.InvoiceNumber, "Invoice "+inv.InvoiceNumber)
		prov := ProviderMpesa
		p.Provider = &prov
	default:
		return nil, apperr.Validation("method %q does not use a payment intent", in.Method)
	}
	if err != nil {
		return nil, err
	}

	p.ProviderRef = &intent.ProviderRef
	p.ClientSecret = intent.ClientSecret
	expires := s.now().Add(s.expiry)
	p.ExpiresAt = &expires

	if err := s.allocateIDs(ctx, p); err != nil {
		return nil, err
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CompletePayment settles the pending payment identified by its provider
// reference and credits the invoice. Completing an already completed
// payment is a no-op, so provider callbacks can be redelivered safely.
// The payment row is locked for the duration of the transaction so two
// concurrent deliveries of the same callback cannot both pass the status
// check and credit the invoice twice. A non-empty receipt is stored as
// the payment reference.
func (s *Service) CompletePayment(ctx context.Context, providerRef, receipt string) (*Payment, error) {
	var p *Payment
	var settled *billing.Invoice
	completedNow := false
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.payments.GetByProviderRefForUpdate(ctx, providerRef)
		if err != nil {
			return err
		}
		if p.Status == StatusCompleted {
			return nil
		}
		if p.Status != StatusPending {
			return apperr.InvalidTransition("payment %s is %s, cannot complete", p.PaymentNumber, p.Status)
		}
		applied, err := s.ledger.ApplyPayment(ctx, p.InvoiceID, p.AmountUnits)
		if err != nil {
			return err
		}
		if applied.IsPaid() {
			settled = applied
		}
		p.Status = StatusCompleted
		completed := s.now()
		p.CompletedAt = &completed
		p.FailureReason = nil
		if receipt != "" {
			p.Reference = &receipt
		}
		completedNow = true
		return s.payments.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	if completedNow {
		s.publish(ctx, notify.EventPaymentCompleted, p, "")
		if settled != nil {
			s.events.Publish(ctx, notify.EventInvoicePaid, settled.InvoiceNumber,
				map[string]string{"invoice_id": settled.ID.String()})
		}
	}
	return p, nil
}

// FailPayment marks the pending payment identified by its provider
// reference as failed. Like CompletePayment it takes the row lock, so a
// failure callback racing a success callback cannot clobber a payment
// that was just completed.
func (s *Service) FailPayment(ctx context.Context, providerRef, reason string) (*Payment, error) {
	var p *Payment
	failedNow := false
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.payments.GetByProviderRefForUpdate(ctx, providerRef)
		if err != nil {
			return err
		}
		if p.Status == StatusFailed {
			return nil
		}
		if p.Status != StatusPending {
			return apperr.InvalidTransition("payment %s is %s, cannot fail", p.PaymentNumber, p.Status)
		}
		p.Status = StatusFailed
		p.FailureReason = &reason
		failedNow = true
		return s.payments.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	if failedNow {
		s.publish(ctx, notify.EventPaymentFailed, p, reason)
	}
	return p, nil
}

// RetryPayment re-initiates a failed provider payment under the same
// ledger entry. Each retry spends one unit of the payment's retry
// budget and extends the expiry window.
func (s *Service) RetryPayment(ctx context.Context, id uuid.UUID, phone string) (*Payment, error) {
	var p *Payment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.payments.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusFailed {
			return apperr.InvalidTransition("payment %s is %s, only failed payments can be retried", p.PaymentNumber, p.Status)
		}
		if p.RetryCount >= p.MaxRetries {
			return apperr.InvalidTransition("payment %s has used all %d retries", p.PaymentNumber, p.MaxRetries)
		}

		inv, err := s.ledger.GetInvoice(ctx, p.InvoiceID)
		if err != nil {
			return err
		}
		if inv.IsPaid() {
			return apperr.New(apperr.KindAlreadyPaid, "invoice %s is already paid", inv.InvoiceNumber)
		}

		var intent *provider.Intent
		switch p.Method {
		case MethodCard:
			intent, err = s.cards.CreateIntent(ctx, p.AmountUnits, p.CurrencyCode,
				map[string]string{"invoice_number": inv.InvoiceNumber, "invoice_id": inv.ID.String()})
		case MethodMobileMoney:
			if phone == "" {
				return apperr.Validation("phone is required to retry a mobile money payment")
			}
			intent, err = s.mobile.RequestPayment(ctx, phone, p.AmountUnits, p.CurrencyCode,
				inv.InvoiceNumber, "Invoice "+inv.InvoiceNumber)
		default:
			return apperr.Validation("payment %s has no provider to retry against", p.PaymentNumber)
		}
		if err != nil {
			return err
		}

		p.Status = StatusPending
		p.ProviderRef = &intent.ProviderRef
		p.ClientSecret = intent.ClientSecret
		p.FailureReason = nil
		p.RetryCount++
		expires := s.now().Add(s.expiry)
		p.ExpiresAt = &expires
		return s.payments.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CancelPayment abandons a pending payment. The invoice was never
// credited, so nothing is reversed.
func (s *Service) CancelPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var p *Payment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.payments.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusPending && p.Status != StatusFailed {
			return apperr.InvalidTransition("payment %s is %s, cannot cancel", p.PaymentNumber, p.Status)
		}
		p.Status = StatusCancelled
		return s.payments.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// RefundPayment reverses a completed payment, debiting the invoice. The
// status check, the provider refund for card payments, and the ledger
// reversal all happen under the payment's row lock in one transaction,
// so a duplicate refund request cannot reach the provider a second
// time.
func (s *Service) RefundPayment(ctx context.Context, id uuid.UUID, amountUnits int64, reason string) (*Payment, error) {
	var p *Payment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.payments.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusCompleted {
			return apperr.InvalidTransition("payment %s is %s, only completed payments can be refunded", p.PaymentNumber, p.Status)
		}
		if amountUnits <= 0 {
			amountUnits = p.AmountUnits
		}
		if amountUnits > p.AmountUnits {
			return apperr.Validation("refund of %s exceeds the payment amount %s",
				money.Format(amountUnits, p.CurrencyCode), money.Format(p.AmountUnits, p.CurrencyCode))
		}

		refundID := "manual"
		if p.Method == MethodCard && p.ProviderRef != nil {
			refundID, err = s.cards.Refund(ctx, *p.ProviderRef, amountUnits, reason)
			if err != nil {
				return err
			}
		}

		if _, err := s.ledger.ReversePayment(ctx, p.InvoiceID, amountUnits); err != nil {
			return err
		}
		p.Status = StatusRefunded
		p.Refund = &RefundData{
			RefundID:    refundID,
			AmountUnits: amountUnits,
			Reason:      reason,
			ProcessedAt: s.now(),
		}
		return s.payments.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notify.EventPaymentRefunded, p, reason)
	return p, nil
}

func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.payments.GetByID(ctx, id)
}

func (s *Service) GetByTransactionID(ctx context.Context, txnID string) (*Payment, error) {
	return s.payments.GetByTransactionID(ctx, txnID)
}

func (s *Service) ListPayments(ctx context.Context, f Filter, limit, offset int) ([]*Payment, int, error) {
	return s.payments.List(ctx, f, limit, offset)
}

func (s *Service) Stats(ctx context.Context, from, to *time.Time) ([]Stat, error) {
	return s.payments.Stats(ctx, from, to)
}

// ExpirePending fails pending provider payments whose window lapsed.
// Returns the number of payments whose state changed.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	expired, err := s.payments.ListExpiredPending(ctx, s.now())
	if err != nil {
		return 0, err
	}
	count := 0
	for _, cand := range expired {
		changed, err := s.expireOne(ctx, cand)
		if err != nil {
			log.Error().Err(err).Str("payment", cand.PaymentNumber).Msg("expire pending payment")
			continue
		}
		if changed {
			count++
		}
	}
	return count, nil
}

// expireOne fails a single lapsed payment. The provider may have
// settled the charge without the callback ever reaching us, so card
// payments are checked against the provider first and completed rather
// than failed when the charge went through.
func (s *Service) expireOne(ctx context.Context, cand *Payment) (bool, error) {
	if cand.Method == MethodCard && cand.ProviderRef != nil {
		intent, err := s.cards.GetIntent(ctx, *cand.ProviderRef)
		if err != nil {
			log.Warn().Err(err).Str("payment", cand.PaymentNumber).Msg("expire: provider lookup failed")
		} else if intent.Status == provider.IntentSucceeded {
			_, err := s.CompletePayment(ctx, *cand.ProviderRef, "")
			return err == nil, err
		}
	}

	var p *Payment
	failed := false
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.payments.GetByIDForUpdate(ctx, cand.ID)
		if err != nil {
			return err
		}
		// A callback may have settled it between the scan and here.
		if p.Status != StatusPending {
			return nil
		}
		reason := "payment window expired"
		p.Status = StatusFailed
		p.FailureReason = &reason
		failed = true
		return s.payments.Update(ctx, p)
	})
	if err != nil {
		return false, err
	}
	if failed {
		s.publish(ctx, notify.EventPaymentFailed, p, *p.FailureReason)
	}
	return failed, nil
}

// ReconcileStale queries the card provider for pending payments that
// never received a callback and settles them from the provider's state.
// Returns the number of payments whose state changed.
func (s *Service) ReconcileStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.payments.ListStalePending(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, p := range stale {
		if p.ProviderRef == nil {
			continue
		}
		intent, err := s.cards.GetIntent(ctx, *p.ProviderRef)
		if err != nil {
			log.Warn().Err(err).Str("payment", p.PaymentNumber).Msg("reconcile: provider lookup failed")
			continue
		}
		switch intent.Status {
		case provider.IntentSucceeded:
			if _, err := s.CompletePayment(ctx, *p.ProviderRef, ""); err != nil {
				log.Error().Err(err).Str("payment", p.PaymentNumber).Msg("reconcile: complete failed")
				continue
			}
			count++
		case provider.IntentFailed, provider.IntentCanceled:
			if _, err := s.FailPayment(ctx, *p.ProviderRef, "reconciled as "+string(intent.Status)); err != nil {
				log.Error().Err(err).Str("payment", p.PaymentNumber).Msg("reconcile: fail failed")
				continue
			}
			count++
		}
	}
	return count, nil
}

// ExpiringSoon lists pending payments that will expire within the
// window, for reminder delivery.
func (s *Service) ExpiringSoon(ctx context.Context, window time.Duration) ([]*Payment, error) {
	now := s.now()
	return s.payments.ListExpiringSoon(ctx, now, now.Add(window))
}
