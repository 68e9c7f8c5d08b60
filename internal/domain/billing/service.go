package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/money"
	"github.com/hms/hms/internal/platform/sequence"
)

// PatientDirectory is the slice of the patient domain billing needs.
type PatientDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service struct {
	invoices InvoiceRepository
	patients PatientDirectory
	seq      sequence.Allocator
	tx       db.Runner

	// locks serializes balance mutations per invoice so concurrent
	// payments cannot both pass the balance check.
	locks *invoiceLocks

	now func() time.Time
}

func NewService(invoices InvoiceRepository, patients PatientDirectory, seq sequence.Allocator, tx db.Runner) *Service {
	return &Service{
		invoices: invoices,
		patients: patients,
		seq:      seq,
		tx:       tx,
		locks:    newInvoiceLocks(),
		now:      time.Now,
	}
}

func (s *Service) lock(id uuid.UUID) func() {
	return s.locks.acquire(id)
}

// invoiceLocks hands out one mutex per invoice and drops the entry once
// no caller holds or waits on it, so the registry does not grow with
// every invoice ever touched.
type invoiceLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*invoiceLock
}

type invoiceLock struct {
	mu   sync.Mutex
	refs int
}

func newInvoiceLocks() *invoiceLocks {
	return &invoiceLocks{m: make(map[uuid.UUID]*invoiceLock)}
}

func (l *invoiceLocks) acquire(id uuid.UUID) func() {
	l.mu.Lock()
	e := l.m[id]
	if e == nil {
		e = &invoiceLock{}
		l.m[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}

func (l *invoiceLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

var validStatuses = map[string]bool{
	StatusDraft: true, StatusIssued: true, StatusCancelled: true,
}

func (s *Service) validate(inv *Invoice) error {
	if inv.PatientID == uuid.Nil {
		return apperr.Validation("patient_id is required")
	}
	if !money.Supported(inv.CurrencyCode) {
		return apperr.New(apperr.KindUnsupportedCurrency, "unsupported currency %q", inv.CurrencyCode)
	}
	if len(inv.LineItems) == 0 {
		return apperr.Validation("at least one line item is required")
	}
	for i, li := range inv.LineItems {
		if li.Description == "" {
			return apperr.Validation("line item %d: description is required", i)
		}
		if li.Quantity <= 0 {
			return apperr.Validation("line item %d: quantity must be positive", i)
		}
		if li.UnitPriceUnits < 0 {
			return apperr.Validation("line item %d: unit price cannot be negative", i)
		}
	}
	if inv.TaxUnits < 0 {
		return apperr.Validation("tax cannot be negative")
	}
	if inv.DiscountUnits < 0 {
		return apperr.Validation("discount cannot be negative")
	}
	return nil
}

func (s *Service) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.Status == "" {
		inv.Status = StatusIssued
	}
	if !validStatuses[inv.Status] || inv.Status == StatusCancelled {
		return apperr.Validation("invalid invoice status: %s", inv.Status)
	}
	if err := s.validate(inv); err != nil {
		return err
	}
	if inv.DueDate != nil && !inv.DueDate.After(s.now()) {
		return apperr.Validation("due_date must be after the issue date")
	}

	exists, err := s.patients.Exists(ctx, inv.PatientID)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("patient %s not found", inv.PatientID)
	}

	inv.PaidUnits = 0
	inv.Recompute()
	if inv.TotalUnits < 0 {
		return apperr.Validation("discount exceeds subtotal plus tax")
	}

	year := s.now().Year()
	seq, err := s.seq.Next(ctx, fmt.Sprintf("invoice:%d", year))
	if err != nil {
		return err
	}
	inv.InvoiceNumber = fmt.Sprintf("INV-%d-%06d", year, seq)

	return s.invoices.Create(ctx, inv)
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

func (s *Service) ListInvoices(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	return s.invoices.List(ctx, f, limit, offset)
}

func (s *Service) UnpaidInvoices(ctx context.Context, patientID uuid.UUID) ([]*Invoice, error) {
	if patientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	invoices, err := s.invoices.ListUnpaidByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := invoices[:0]
	for _, inv := range invoices {
		if inv.BalanceUnits() > inv.Tolerance() {
			out = append(out, inv)
		}
	}
	return out, nil
}

// UpdateInvoice applies structural edits: line items, tax, discount, due
// date, notes. Fully paid and cancelled invoices reject edits.
func (s *Service) UpdateInvoice(ctx context.Context, id uuid.UUID, edit *Invoice) (*Invoice, error) {
	unlock := s.lock(id)
	defer unlock()

	var updated *Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return apperr.InvalidTransition("cancelled invoice cannot be edited")
		}
		if inv.IsPaid() {
			return apperr.New(apperr.KindAlreadyPaid, "paid invoice cannot be edited")
		}

		inv.LineItems = edit.LineItems
		inv.TaxUnits = edit.TaxUnits
		inv.DiscountUnits = edit.DiscountUnits
		inv.DueDate = edit.DueDate
		inv.Notes = edit.Notes
		if err := s.validate(inv); err != nil {
			return err
		}
		if inv.DueDate != nil && !inv.DueDate.After(inv.CreatedAt) {
			return apperr.Validation("due_date must be after the issue date")
		}

		inv.Recompute()
		if inv.TotalUnits < 0 {
			return apperr.Validation("discount exceeds subtotal plus tax")
		}
		if inv.TotalUnits < inv.PaidUnits-inv.Tolerance() {
			return apperr.New(apperr.KindAmountExceedsBalance,
				"new total %d is below the amount already paid %d", inv.TotalUnits, inv.PaidUnits)
		}

		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	return updated, err
}

// IssueInvoice moves a draft invoice into circulation. This is the only
// manual status transition forward; the paid side of the lifecycle is
// derived from payments.
func (s *Service) IssueInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	unlock := s.lock(id)
	defer unlock()

	var issued *Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return apperr.InvalidTransition("invoice %s is %s, only draft invoices can be issued", inv.InvoiceNumber, inv.Status)
		}
		inv.Status = StatusIssued
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		issued = inv
		return nil
	})
	return issued, err
}

func (s *Service) CancelInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	unlock := s.lock(id)
	defer unlock()

	var cancelled *Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return apperr.InvalidTransition("invoice is already cancelled")
		}
		if inv.PaidUnits != 0 {
			return apperr.InvalidTransition("invoice with recorded payments cannot be cancelled")
		}
		inv.Status = StatusCancelled
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		cancelled = inv
		return nil
	})
	return cancelled, err
}

// ApplyPayment credits amountUnits against the invoice balance. The
// invoice row is locked for the duration, so of two concurrent payments
// that each fit the balance but not together, exactly one succeeds.
func (s *Service) ApplyPayment(ctx context.Context, invoiceID uuid.UUID, amountUnits int64) (*Invoice, error) {
	if amountUnits <= 0 {
		return nil, apperr.Validation("payment amount must be positive")
	}

	unlock := s.lock(invoiceID)
	defer unlock()

	var applied *Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return apperr.InvalidTransition("cancelled invoice cannot receive payments")
		}
		if inv.IsPaid() {
			return apperr.New(apperr.KindAlreadyPaid, "invoice %s is already paid", inv.InvoiceNumber)
		}
		if amountUnits > inv.BalanceUnits()+inv.Tolerance() {
			return apperr.New(apperr.KindAmountExceedsBalance,
				"payment of %d exceeds balance due %d", amountUnits, inv.BalanceUnits())
		}

		inv.PaidUnits += amountUnits
		inv.PaymentStatus = inv.derivePaymentStatus()
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		applied = inv
		return nil
	})
	return applied, err
}

// ReversePayment debits a previously applied amount, e.g. on refund.
func (s *Service) ReversePayment(ctx context.Context, invoiceID uuid.UUID, amountUnits int64) (*Invoice, error) {
	if amountUnits <= 0 {
		return nil, apperr.Validation("reversal amount must be positive")
	}

	unlock := s.lock(invoiceID)
	defer unlock()

	var reversed *Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		inv.PaidUnits -= amountUnits
		if inv.PaidUnits < 0 {
			inv.PaidUnits = 0
		}
		inv.PaymentStatus = inv.derivePaymentStatus()
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		reversed = inv
		return nil
	})
	return reversed, err
}

// SetClaim writes the insurance claim section under the invoice lock.
// mutate receives the current invoice and returns the new section.
func (s *Service) SetClaim(ctx context.Context, invoiceID uuid.UUID, mutate func(*Invoice) (*InsuranceClaim, error)) (*Invoice, error) {
	unlock := s.lock(invoiceID)
	defer unlock()

	var updated *Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		claim, err := mutate(inv)
		if err != nil {
			return err
		}
		inv.InsuranceClaim = claim
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	return updated, err
}
