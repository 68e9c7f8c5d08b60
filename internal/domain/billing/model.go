package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/money"
)

// Invoice statuses.
const (
	StatusDraft     = "draft"
	StatusIssued    = "issued"
	StatusCancelled = "cancelled"
)

// Payment statuses, always derived from paid vs total.
const (
	PaymentStatusUnpaid  = "unpaid"
	PaymentStatusPartial = "partial"
	PaymentStatusPaid    = "paid"
)

// Claim statuses, tracked on the invoice's insurance claim section.
const (
	ClaimStatusNotSubmitted = "not_submitted"
	ClaimStatusSubmitted    = "submitted"
	ClaimStatusProcessing   = "processing"
	ClaimStatusApproved     = "approved"
	ClaimStatusRejected     = "rejected"
	ClaimStatusPaid         = "paid"
)

// Invoice is the billing aggregate. All amounts are integer storage
// units of CurrencyCode; totals are recomputed from the line items on
// every save and never trusted from input.
type Invoice struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	InvoiceNumber string     `db:"invoice_number" json:"invoice_number"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	CurrencyCode  string     `db:"currency_code" json:"currency_code"`
	LineItems     []LineItem `db:"line_items" json:"line_items"`

	SubtotalUnits int64 `db:"subtotal_units" json:"subtotal_units"`
	TaxUnits      int64 `db:"tax_units" json:"tax_units"`
	DiscountUnits int64 `db:"discount_units" json:"discount_units"`
	TotalUnits    int64 `db:"total_units" json:"total_units"`
	PaidUnits     int64 `db:"paid_units" json:"paid_units"`

	Status        string     `db:"status" json:"status"`
	PaymentStatus string     `db:"payment_status" json:"payment_status"`
	DueDate       *time.Time `db:"due_date" json:"due_date,omitempty"`

	InsuranceClaim *InsuranceClaim `db:"insurance_claim" json:"insurance_claim,omitempty"`

	Notes     *string   `db:"notes" json:"notes,omitempty"`
	CreatedBy *string   `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	// PatientName is denormalized onto read models, never stored.
	PatientName string `db:"-" json:"patient_name,omitempty"`
}

// LineItem is one charge on an invoice. AmountUnits is always
// Quantity * UnitPriceUnits.
type LineItem struct {
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceUnits int64  `json:"unit_price_units"`
	AmountUnits    int64  `json:"amount_units"`
}

// InsuranceClaim is the claim section embedded on an invoice. An invoice
// carries at most one.
type InsuranceClaim struct {
	ClaimNumber   string     `json:"claim_number"`
	Insurer       string     `json:"insurer"`
	PolicyNumber  string     `json:"policy_number"`
	ClaimedUnits  int64      `json:"claimed_units"`
	ApprovedUnits *int64     `json:"approved_units,omitempty"`
	Status        string     `json:"status"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	DenialReason  *string    `json:"denial_reason,omitempty"`
}

// Recompute derives line amounts, subtotal, total, and payment status.
// Called on every save so stored totals cannot drift from the items.
func (inv *Invoice) Recompute() {
	var subtotal int64
	for i := range inv.LineItems {
		li := &inv.LineItems[i]
		li.AmountUnits = int64(li.Quantity) * li.UnitPriceUnits
		subtotal += li.AmountUnits
	}
	inv.SubtotalUnits = subtotal
	inv.TotalUnits = subtotal + inv.TaxUnits - inv.DiscountUnits
	inv.PaymentStatus = inv.derivePaymentStatus()
}

func (inv *Invoice) derivePaymentStatus() string {
	switch {
	case inv.PaidUnits <= 0:
		return PaymentStatusUnpaid
	case inv.BalanceUnits() <= inv.Tolerance():
		return PaymentStatusPaid
	default:
		return PaymentStatusPartial
	}
}

// BalanceUnits is the amount still owed.
func (inv *Invoice) BalanceUnits() int64 {
	return inv.TotalUnits - inv.PaidUnits
}

// Tolerance is the comparison slack for this invoice's currency.
func (inv *Invoice) Tolerance() int64 {
	return money.Tolerance(inv.CurrencyCode)
}

// IsPaid reports whether the outstanding balance is within tolerance.
func (inv *Invoice) IsPaid() bool {
	return inv.PaymentStatus == PaymentStatusPaid
}

// IsOverdue reports whether the invoice is past due and not settled.
func (inv *Invoice) IsOverdue(now time.Time) bool {
	return inv.DueDate != nil && now.After(*inv.DueDate) &&
		inv.Status != StatusCancelled && !inv.IsPaid()
}

// DisplayTotal returns the total in display units, e.g. 19.99 for 1999
// USD cents.
func (inv *Invoice) DisplayTotal() decimal.Decimal {
	d, _ := money.ToDisplay(inv.TotalUnits, inv.CurrencyCode)
	return d
}

// DisplayBalance returns the outstanding balance in display units.
func (inv *Invoice) DisplayBalance() decimal.Decimal {
	d, _ := money.ToDisplay(inv.BalanceUnits(), inv.CurrencyCode)
	return d
}
