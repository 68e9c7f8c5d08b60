package claims

import (
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/billing"
)

// Insurers report claim decisions in their own vocabulary while the
// invoice stores the internal lifecycle statuses. The two maps below
// translate between them; the reverse direction is lossy on purpose, a
// paid claim still reads "Approved" to the insurer.
var insurerStatusIn = map[string]string{
	"Pending":      billing.ClaimStatusNotSubmitted,
	"Under Review": billing.ClaimStatusProcessing,
	"Approved":     billing.ClaimStatusApproved,
	"Denied":       billing.ClaimStatusRejected,
}

var insurerStatusOut = map[string]string{
	billing.ClaimStatusNotSubmitted: "Pending",
	billing.ClaimStatusSubmitted:    "Pending",
	billing.ClaimStatusProcessing:   "Under Review",
	billing.ClaimStatusApproved:     "Approved",
	billing.ClaimStatusRejected:     "Denied",
	billing.ClaimStatusPaid:         "Approved",
}

// NormalizeStatus maps an insurer-vocabulary status to the internal
// one. Internal status names pass through unchanged, so callers that
// already speak the internal vocabulary keep working.
func NormalizeStatus(status string) string {
	if internal, ok := insurerStatusIn[status]; ok {
		return internal
	}
	return status
}

// Claim is the tracker's read model: the insurance claim section of an
// invoice joined with the invoice and patient context the front desk
// needs on one screen.
type Claim struct {
	InvoiceID         uuid.UUID  `json:"invoice_id"`
	InvoiceNumber     string     `json:"invoice_number"`
	PatientID         uuid.UUID  `json:"patient_id"`
	PatientName       string     `json:"patient_name,omitempty"`
	CurrencyCode      string     `json:"currency_code"`
	InvoiceTotalUnits int64      `json:"invoice_total_units"`
	ClaimNumber       string     `json:"claim_number"`
	Insurer           string     `json:"insurer"`
	PolicyNumber      string     `json:"policy_number"`
	ClaimedUnits      int64      `json:"claimed_units"`
	ApprovedUnits     *int64     `json:"approved_units,omitempty"`
	Status            string     `json:"status"`
	InsurerStatus     string     `json:"insurer_status,omitempty"`
	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	DenialReason      *string    `json:"denial_reason,omitempty"`
}

// Stat is one status bucket of the claim pipeline.
type Stat struct {
	Status        string `json:"status"`
	Count         int    `json:"count"`
	ClaimedUnits  int64  `json:"claimed_units"`
	ApprovedUnits int64  `json:"approved_units"`
}

func fromInvoice(inv *billing.Invoice) *Claim {
	ic := inv.InsuranceClaim
	return &Claim{
		InvoiceID:         inv.ID,
		InvoiceNumber:     inv.InvoiceNumber,
		PatientID:         inv.PatientID,
		PatientName:       inv.PatientName,
		CurrencyCode:      inv.CurrencyCode,
		InvoiceTotalUnits: inv.TotalUnits,
		ClaimNumber:       ic.ClaimNumber,
		Insurer:           ic.Insurer,
		PolicyNumber:      ic.PolicyNumber,
		ClaimedUnits:      ic.ClaimedUnits,
		ApprovedUnits:     ic.ApprovedUnits,
		Status:            ic.Status,
		InsurerStatus:     insurerStatusOut[ic.Status],
		SubmittedAt:       ic.SubmittedAt,
		ProcessedAt:       ic.ProcessedAt,
		DenialReason:      ic.DenialReason,
	}
}
