package reports

import (
	"context"
	"time"
)

// Repository runs the read-side aggregations. All queries bucket by
// currency; none of them mix currencies in a single sum.
type Repository interface {
	CurrencySummaries(ctx context.Context, from, to time.Time) ([]CurrencySummary, error)
	TimeSeries(ctx context.Context, from, to time.Time, groupBy string) ([]TimeBucket, error)
	Aging(ctx context.Context, asOf time.Time) ([]AgingBucket, error)
	PaymentMethods(ctx context.Context, from, to time.Time) ([]MethodBreakdown, error)
}
