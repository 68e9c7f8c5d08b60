package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows List results. Zero values mean "no filter".
type Filter struct {
	InvoiceID uuid.UUID
	PatientID uuid.UUID
	Status    string
	Method    string
	Provider  string
	From      *time.Time
	To        *time.Time
}

// Stat is one aggregation bucket of the payments ledger.
type Stat struct {
	CurrencyCode string `json:"currency_code"`
	Method       string `json:"method"`
	Status       string `json:"status"`
	Count        int    `json:"count"`
	AmountUnits  int64  `json:"amount_units"`
}

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByTransactionID(ctx context.Context, txnID string) (*Payment, error)
	GetByProviderRef(ctx context.Context, ref string) (*Payment, error)
	// GetByIDForUpdate locks the payment row for the duration of the
	// surrounding transaction. Outside a transaction it behaves like
	// GetByID.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error)
	// GetByProviderRefForUpdate is GetByProviderRef with the same row
	// lock semantics as GetByIDForUpdate.
	GetByProviderRefForUpdate(ctx context.Context, ref string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Payment, int, error)
	// ListExpiredPending returns pending provider payments whose expiry
	// passed before cutoff.
	ListExpiredPending(ctx context.Context, cutoff time.Time) ([]*Payment, error)
	// ListStalePending returns pending card payments created before
	// cutoff, candidates for provider reconciliation.
	ListStalePending(ctx context.Context, cutoff time.Time) ([]*Payment, error)
	// ListExpiringSoon returns pending provider payments expiring in
	// the given window.
	ListExpiringSoon(ctx context.Context, from, to time.Time) ([]*Payment, error)
	Stats(ctx context.Context, from, to *time.Time) ([]Stat, error)
}
