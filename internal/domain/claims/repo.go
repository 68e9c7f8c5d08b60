package claims

import (
	"context"

	"github.com/hms/hms/internal/domain/billing"
)

// Repository reads the claim sections embedded on invoices.
type Repository interface {
	// ListClaimed returns invoices carrying a claim, newest first,
	// optionally narrowed to one claim status.
	ListClaimed(ctx context.Context, status string, limit, offset int) ([]*billing.Invoice, int, error)
	Stats(ctx context.Context) ([]Stat, error)
}
