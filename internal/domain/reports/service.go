package reports

import (
	"context"
	"time"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/money"
)

var groupings = map[string]bool{
	"day":   true,
	"week":  true,
	"month": true,
	"year":  true,
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Financial builds the per-currency rollup plus a time series for the
// requested range. A zero `to` means now; a zero `from` means 30 days
// before `to`.
func (s *Service) Financial(ctx context.Context, from, to time.Time, groupBy string) (*Report, error) {
	if groupBy == "" {
		groupBy = "month"
	}
	if !groupings[groupBy] {
		return nil, apperr.Validation("group_by must be one of day, week, month, year")
	}
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	if !from.Before(to) {
		return nil, apperr.Validation("from must be before to")
	}

	currencies, err := s.repo.CurrencySummaries(ctx, from, to)
	if err != nil {
		return nil, err
	}
	for i := range currencies {
		c := &currencies[i]
		c.Invoiced, _ = money.ToDisplay(c.InvoicedUnits, c.CurrencyCode)
		c.Paid, _ = money.ToDisplay(c.PaidUnits, c.CurrencyCode)
		c.Outstanding, _ = money.ToDisplay(c.OutstandingUnits, c.CurrencyCode)
		c.Refunded, _ = money.ToDisplay(c.RefundedUnits, c.CurrencyCode)
	}

	series, err := s.repo.TimeSeries(ctx, from, to, groupBy)
	if err != nil {
		return nil, err
	}
	for i := range series {
		b := &series[i]
		b.Invoiced, _ = money.ToDisplay(b.InvoicedUnits, b.CurrencyCode)
		b.Paid, _ = money.ToDisplay(b.PaidUnits, b.CurrencyCode)
	}

	return &Report{
		From:       from,
		To:         to,
		GroupBy:    groupBy,
		Currencies: currencies,
		Series:     series,
	}, nil
}

// Outstanding returns overdue balances banded by days past due.
func (s *Service) Outstanding(ctx context.Context) ([]AgingBucket, error) {
	buckets, err := s.repo.Aging(ctx, s.now())
	if err != nil {
		return nil, err
	}
	for i := range buckets {
		b := &buckets[i]
		b.Outstanding, _ = money.ToDisplay(b.OutstandingUnits, b.CurrencyCode)
	}
	return buckets, nil
}

// PaymentMethods returns completed-payment volume per method for the
// range, defaulting like Financial.
func (s *Service) PaymentMethods(ctx context.Context, from, to time.Time) ([]MethodBreakdown, error) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	breakdown, err := s.repo.PaymentMethods(ctx, from, to)
	if err != nil {
		return nil, err
	}
	for i := range breakdown {
		m := &breakdown[i]
		m.Amount, _ = money.ToDisplay(m.AmountUnits, m.CurrencyCode)
	}
	return breakdown, nil
}
