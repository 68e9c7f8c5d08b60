package payment

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/money"
)

// Payment methods.
const (
	MethodCash         = "cash"
	MethodBankTransfer = "bank_transfer"
	MethodCheck        = "check"
	MethodCard         = "card"
	MethodMobileMoney  = "mobile_money"
)

// Payment statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRefunded  = "refunded"
	StatusCancelled = "cancelled"
)

// Payment providers.
const (
	ProviderStripe  = "stripe"
	ProviderMpesa   = "mpesa"
	ProviderInsurer = "insurer"
)

// Payment is one ledger entry against an invoice. Completed payments are
// the authoritative record; the invoice's paid amount is kept in step
// inside the same transaction.
type Payment struct {
	ID            uuid.UUID `db:"id" json:"id"`
	PaymentNumber string    `db:"payment_number" json:"payment_number"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	InvoiceID     uuid.UUID `db:"invoice_id" json:"invoice_id"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`

	AmountUnits  int64  `db:"amount_units" json:"amount_units"`
	CurrencyCode string `db:"currency_code" json:"currency_code"`
	Method       string `db:"method" json:"method"`
	Status       string `db:"status" json:"status"`

	Provider      *string `db:"provider" json:"provider,omitempty"`
	ProviderRef   *string `db:"provider_ref" json:"provider_ref,omitempty"`
	FailureReason *string `db:"failure_reason" json:"failure_reason,omitempty"`

	// Retry bookkeeping for failed provider payments. A payment may be
	// retried at most MaxRetries times before the front desk has to
	// start over with a new one.
	RetryCount int `db:"retry_count" json:"retry_count"`
	MaxRetries int `db:"max_retries" json:"max_retries"`

	// Cash handling, set only for cash payments.
	CashReceivedUnits *int64 `db:"cash_received_units" json:"cash_received_units,omitempty"`
	ChangeDueUnits    *int64 `db:"change_due_units" json:"change_due_units,omitempty"`

	// Reference is the check number or bank transfer reference.
	Reference  *string `db:"reference" json:"reference,omitempty"`
	Notes      *string `db:"notes" json:"notes,omitempty"`
	ReceivedBy *string `db:"received_by" json:"received_by,omitempty"`

	Refund *RefundData `db:"refund" json:"refund,omitempty"`

	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`

	// ClientSecret is handed to the browser to confirm a card intent.
	// Never persisted.
	ClientSecret string `db:"-" json:"client_secret,omitempty"`
}

// RefundData records how a completed payment was reversed.
type RefundData struct {
	RefundID    string    `json:"refund_id"`
	AmountUnits int64     `json:"amount_units"`
	Reason      string    `json:"reason"`
	ProcessedAt time.Time `json:"processed_at"`
}

// DisplayAmount returns the amount in display units of the payment's
// currency.
func (p *Payment) DisplayAmount() decimal.Decimal {
	d, _ := money.ToDisplay(p.AmountUnits, p.CurrencyCode)
	return d
}

// IsManual reports whether the payment settles at the desk rather than
// through a provider.
func (p *Payment) IsManual() bool {
	switch p.Method {
	case MethodCash, MethodBankTransfer, MethodCheck:
		return true
	}
	return false
}

// newTransactionID derives a short reference from a fresh UUID. The
// caller checks for collisions before use.
func newTransactionID(id uuid.UUID) string {
	compact := strings.ReplaceAll(id.String(), "-", "")
	return "TXN" + strings.ToUpper(compact[:9])
}
