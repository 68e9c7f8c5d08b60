package reports

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrencySummary is one currency bucket of the financial report.
// Amounts in different currencies are never summed together, so every
// rollup carries the currency as part of its key.
type CurrencySummary struct {
	CurrencyCode     string          `json:"currency_code"`
	InvoiceCount     int             `json:"invoice_count"`
	PaymentCount     int             `json:"payment_count"`
	InvoicedUnits    int64           `json:"invoiced_units"`
	PaidUnits        int64           `json:"paid_units"`
	OutstandingUnits int64           `json:"outstanding_units"`
	RefundedUnits    int64           `json:"refunded_units"`
	Invoiced         decimal.Decimal `json:"invoiced"`
	Paid             decimal.Decimal `json:"paid"`
	Outstanding      decimal.Decimal `json:"outstanding"`
	Refunded         decimal.Decimal `json:"refunded"`
}

// TimeBucket is one period of the report's time series, per currency.
type TimeBucket struct {
	Period        time.Time       `json:"period"`
	CurrencyCode  string          `json:"currency_code"`
	InvoiceCount  int             `json:"invoice_count"`
	PaymentCount  int             `json:"payment_count"`
	InvoicedUnits int64           `json:"invoiced_units"`
	PaidUnits     int64           `json:"paid_units"`
	Invoiced      decimal.Decimal `json:"invoiced"`
	Paid          decimal.Decimal `json:"paid"`
}

// Report is the full financial rollup for a date range.
type Report struct {
	From       time.Time         `json:"from"`
	To         time.Time         `json:"to"`
	GroupBy    string            `json:"group_by"`
	Currencies []CurrencySummary `json:"currencies"`
	Series     []TimeBucket      `json:"series"`
}

// AgingBucket is one band of the outstanding-balance report.
type AgingBucket struct {
	CurrencyCode     string          `json:"currency_code"`
	Bucket           string          `json:"bucket"`
	InvoiceCount     int             `json:"invoice_count"`
	OutstandingUnits int64           `json:"outstanding_units"`
	Outstanding      decimal.Decimal `json:"outstanding"`
}

// MethodBreakdown is the completed-payment volume per method.
type MethodBreakdown struct {
	CurrencyCode string          `json:"currency_code"`
	Method       string          `json:"method"`
	Count        int             `json:"count"`
	AmountUnits  int64           `json:"amount_units"`
	Amount       decimal.Decimal `json:"amount"`
}
