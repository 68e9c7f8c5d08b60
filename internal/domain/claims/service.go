package claims

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/payment"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/notify"
	"github.com/hms/hms/internal/platform/sequence"
)

// InvoiceStore is the slice of the billing domain the claim tracker
// drives. billing.Service satisfies it.
type InvoiceStore interface {
	GetInvoice(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
	SetClaim(ctx context.Context, invoiceID uuid.UUID, mutate func(*billing.Invoice) (*billing.InsuranceClaim, error)) (*billing.Invoice, error)
}

// PaymentRecorder posts the insurer payout when a claim is settled.
// payment.Service satisfies it.
type PaymentRecorder interface {
	RecordInsurancePayment(ctx context.Context, invoiceID uuid.UUID, amountUnits int64, claimNumber string) (*payment.Payment, error)
}

type Service struct {
	invoices InvoiceStore
	payments PaymentRecorder
	repo     Repository
	seq      sequence.Allocator
	events   payment.Events
	now      func() time.Time
}

func NewService(invoices InvoiceStore, payments PaymentRecorder, repo Repository, seq sequence.Allocator) *Service {
	return &Service{
		invoices: invoices,
		payments: payments,
		repo:     repo,
		seq:      seq,
		now:      time.Now,
	}
}

// SetEvents routes claim approvals to an event sink.
func (s *Service) SetEvents(e payment.Events) {
	s.events = e
}

// CreateInput opens a claim against an invoice. ClaimedUnits of zero
// claims the outstanding balance.
type CreateInput struct {
	InvoiceID    uuid.UUID
	Insurer      string
	PolicyNumber string
	ClaimedUnits int64
}

func (s *Service) CreateFromInvoice(ctx context.Context, in CreateInput) (*Claim, error) {
	if in.Insurer == "" {
		return nil, apperr.Validation("insurer is required")
	}
	if in.PolicyNumber == "" {
		return nil, apperr.Validation("policy_number is required")
	}
	if in.ClaimedUnits < 0 {
		return nil, apperr.Validation("claimed amount cannot be negative")
	}

	n, err := s.seq.Next(ctx, "claim")
	if err != nil {
		return nil, err
	}
	number := fmt.Sprintf("CLM-%04d", n)

	inv, err := s.invoices.SetClaim(ctx, in.InvoiceID, func(inv *billing.Invoice) (*billing.InsuranceClaim, error) {
		if inv.InsuranceClaim != nil {
			return nil, apperr.New(apperr.KindAlreadyClaimed,
				"invoice %s already has claim %s", inv.InvoiceNumber, inv.InsuranceClaim.ClaimNumber)
		}
		if inv.Status == billing.StatusCancelled {
			return nil, apperr.InvalidTransition("cancelled invoice cannot be claimed")
		}
		claimed := in.ClaimedUnits
		if claimed == 0 {
			claimed = inv.BalanceUnits()
		}
		if claimed <= 0 || claimed > inv.TotalUnits {
			return nil, apperr.Validation("claimed amount must be positive and within the invoice total")
		}
		return &billing.InsuranceClaim{
			ClaimNumber:  number,
			Insurer:      in.Insurer,
			PolicyNumber: in.PolicyNumber,
			ClaimedUnits: claimed,
			Status:       billing.ClaimStatusNotSubmitted,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return fromInvoice(inv), nil
}

// Submit marks the claim as sent to the insurer.
func (s *Service) Submit(ctx context.Context, invoiceID uuid.UUID) (*Claim, error) {
	inv, err := s.invoices.SetClaim(ctx, invoiceID, func(inv *billing.Invoice) (*billing.InsuranceClaim, error) {
		ic := inv.InsuranceClaim
		if ic == nil {
			return nil, apperr.NotFound("invoice %s has no claim", inv.InvoiceNumber)
		}
		if ic.Status != billing.ClaimStatusNotSubmitted {
			return nil, apperr.InvalidTransition("claim %s is %s, cannot submit", ic.ClaimNumber, ic.Status)
		}
		submitted := s.now()
		ic.Status = billing.ClaimStatusSubmitted
		ic.SubmittedAt = &submitted
		return ic, nil
	})
	if err != nil {
		return nil, err
	}
	return fromInvoice(inv), nil
}

// claimTransitions maps each status to the statuses it may move to
// through UpdateStatus. The paid status is reached separately after an
// approved claim's payout is recorded.
var claimTransitions = map[string][]string{
	billing.ClaimStatusSubmitted:  {billing.ClaimStatusProcessing},
	billing.ClaimStatusProcessing: {billing.ClaimStatusApproved, billing.ClaimStatusRejected},
	billing.ClaimStatusApproved:   {billing.ClaimStatusPaid},
}

func canTransition(from, to string) bool {
	for _, allowed := range claimTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StatusInput drives the insurer-side lifecycle. ApprovedUnits is
// required when approving; DenialReason when rejecting.
type StatusInput struct {
	Status        string
	ApprovedUnits *int64
	DenialReason  *string
}

func (s *Service) UpdateStatus(ctx context.Context, invoiceID uuid.UUID, in StatusInput) (*Claim, error) {
	switch in.Status {
	case billing.ClaimStatusProcessing, billing.ClaimStatusApproved,
		billing.ClaimStatusRejected, billing.ClaimStatusPaid:
	default:
		return nil, apperr.Validation("unknown claim status %q", in.Status)
	}

	var payout int64
	var claimNumber string

	inv, err := s.invoices.SetClaim(ctx, invoiceID, func(inv *billing.Invoice) (*billing.InsuranceClaim, error) {
		ic := inv.InsuranceClaim
		if ic == nil {
			return nil, apperr.NotFound("invoice %s has no claim", inv.InvoiceNumber)
		}
		if !canTransition(ic.Status, in.Status) {
			return nil, apperr.InvalidTransition("claim %s cannot move from %s to %s",
				ic.ClaimNumber, ic.Status, in.Status)
		}

		switch in.Status {
		case billing.ClaimStatusApproved:
			approved := ic.ClaimedUnits
			if in.ApprovedUnits != nil {
				approved = *in.ApprovedUnits
			}
			if approved <= 0 || approved > ic.ClaimedUnits {
				return nil, apperr.Validation("approved amount must be positive and within the claimed amount")
			}
			ic.ApprovedUnits = &approved
			if ic.ProcessedAt == nil {
				processed := s.now()
				ic.ProcessedAt = &processed
			}
		case billing.ClaimStatusRejected:
			if in.DenialReason == nil || *in.DenialReason == "" {
				return nil, apperr.Validation("denial_reason is required when rejecting")
			}
			ic.DenialReason = in.DenialReason
			if ic.ProcessedAt == nil {
				processed := s.now()
				ic.ProcessedAt = &processed
			}
		case billing.ClaimStatusPaid:
			if ic.ApprovedUnits == nil {
				return nil, apperr.InvalidTransition("claim %s has no approved amount", ic.ClaimNumber)
			}
			payout = *ic.ApprovedUnits
			claimNumber = ic.ClaimNumber
		}

		ic.Status = in.Status
		return ic, nil
	})
	if err != nil {
		return nil, err
	}

	if in.Status == billing.ClaimStatusApproved && s.events != nil {
		claim := inv.InsuranceClaim
		s.events.Publish(ctx, notify.EventClaimApproved, claim.ClaimNumber, map[string]any{
			"invoice_number": inv.InvoiceNumber,
			"insurer":        claim.Insurer,
			"approved_units": *claim.ApprovedUnits,
			"currency_code":  inv.CurrencyCode,
		})
	}

	// The payout is posted through the payment ledger so it shows up in
	// reports like any other payment. It runs outside SetClaim because
	// the ledger takes the same invoice lock. If the ledger rejects the
	// payout the claim reverts to approved.
	if payout > 0 {
		if _, err := s.payments.RecordInsurancePayment(ctx, invoiceID, payout, claimNumber); err != nil {
			_, revertErr := s.invoices.SetClaim(ctx, invoiceID, func(inv *billing.Invoice) (*billing.InsuranceClaim, error) {
				inv.InsuranceClaim.Status = billing.ClaimStatusApproved
				return inv.InsuranceClaim, nil
			})
			if revertErr != nil {
				return nil, apperr.Wrap(revertErr, apperr.KindInternal, "reverting claim after failed payout")
			}
			return nil, err
		}
	}
	return fromInvoice(inv), nil
}

func (s *Service) Get(ctx context.Context, invoiceID uuid.UUID) (*Claim, error) {
	inv, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.InsuranceClaim == nil {
		return nil, apperr.NotFound("invoice %s has no claim", inv.InvoiceNumber)
	}
	return fromInvoice(inv), nil
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Claim, int, error) {
	invoices, total, err := s.repo.ListClaimed(ctx, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	claims := make([]*Claim, len(invoices))
	for i, inv := range invoices {
		claims[i] = fromInvoice(inv)
	}
	return claims, total, nil
}

func (s *Service) Stats(ctx context.Context) ([]Stat, error) {
	return s.repo.Stats(ctx)
}
