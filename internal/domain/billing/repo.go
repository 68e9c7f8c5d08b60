package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InvoiceFilter narrows List results. Zero values mean "no filter".
// The amount bounds are in storage units and only meaningful together
// with a currency filter.
type InvoiceFilter struct {
	PatientID     uuid.UUID
	Status        string
	PaymentStatus string
	Currency      string
	Overdue       bool
	MinTotalUnits *int64
	MaxTotalUnits *int64
	From          *time.Time
	To            *time.Time
}

type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	// GetForUpdate locks the invoice row for the duration of the
	// surrounding transaction. Outside a transaction it behaves like
	// GetByID.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error)
	ListUnpaidByPatient(ctx context.Context, patientID uuid.UUID) ([]*Invoice, error)
}
