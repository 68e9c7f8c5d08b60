package reports

import (
	"context"
	"testing"
	"time"

	"github.com/hms/hms/internal/platform/apperr"
)

type mockRepo struct {
	summaries []CurrencySummary
	series    []TimeBucket
	aging     []AgingBucket
	methods   []MethodBreakdown

	lastFrom, lastTo time.Time
	lastGroupBy      string
}

func (m *mockRepo) CurrencySummaries(_ context.Context, from, to time.Time) ([]CurrencySummary, error) {
	m.lastFrom, m.lastTo = from, to
	return m.summaries, nil
}

func (m *mockRepo) TimeSeries(_ context.Context, from, to time.Time, groupBy string) ([]TimeBucket, error) {
	m.lastGroupBy = groupBy
	return m.series, nil
}

func (m *mockRepo) Aging(_ context.Context, _ time.Time) ([]AgingBucket, error) {
	return m.aging, nil
}

func (m *mockRepo) PaymentMethods(_ context.Context, from, to time.Time) ([]MethodBreakdown, error) {
	m.lastFrom, m.lastTo = from, to
	return m.methods, nil
}

func newTestService(repo *mockRepo) *Service {
	svc := NewService(repo)
	svc.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestFinancial_DisplayAmountsPerCurrency(t *testing.T) {
	repo := &mockRepo{
		summaries: []CurrencySummary{
			{CurrencyCode: "USD", InvoiceCount: 2, InvoicedUnits: 20000, PaidUnits: 7450, OutstandingUnits: 12550, RefundedUnits: 500},
			{CurrencyCode: "UGX", InvoiceCount: 1, InvoicedUnits: 150000, PaidUnits: 150000},
		},
		series: []TimeBucket{
			{Period: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), CurrencyCode: "USD", InvoicedUnits: 20000, PaidUnits: 7450},
		},
	}
	svc := newTestService(repo)

	report, err := svc.Financial(context.Background(), time.Time{}, time.Time{}, "month")
	if err != nil {
		t.Fatalf("Financial: %v", err)
	}

	usd := report.Currencies[0]
	if usd.Invoiced.String() != "200" {
		t.Errorf("USD invoiced = %s, want 200", usd.Invoiced)
	}
	if usd.Paid.String() != "74.5" {
		t.Errorf("USD paid = %s, want 74.5", usd.Paid)
	}
	var ugx CurrencySummary
	for _, c := range report.Currencies {
		if c.CurrencyCode == "UGX" {
			ugx = c
		}
	}
	if ugx.Invoiced.String() != "150000" {
		t.Errorf("UGX invoiced = %s, want 150000 (zero-decimal)", ugx.Invoiced)
	}
	if report.Series[0].Paid.String() != "74.5" {
		t.Errorf("series paid = %s, want 74.5", report.Series[0].Paid)
	}
}

func TestFinancial_Defaults(t *testing.T) {
	repo := &mockRepo{}
	svc := newTestService(repo)

	report, err := svc.Financial(context.Background(), time.Time{}, time.Time{}, "")
	if err != nil {
		t.Fatalf("Financial: %v", err)
	}
	if report.GroupBy != "month" {
		t.Errorf("group_by = %q, want month default", report.GroupBy)
	}
	wantTo := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	if !report.To.Equal(wantTo) {
		t.Errorf("to = %v, want now", report.To)
	}
	if !report.From.Equal(wantTo.AddDate(0, 0, -30)) {
		t.Errorf("from = %v, want 30 days before to", report.From)
	}
	if repo.lastGroupBy != "month" {
		t.Errorf("repo got group_by %q", repo.lastGroupBy)
	}
}

func TestFinancial_Validation(t *testing.T) {
	svc := newTestService(&mockRepo{})

	if _, err := svc.Financial(context.Background(), time.Time{}, time.Time{}, "hour"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("group_by=hour err = %v, want ValidationError", err)
	}

	from := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := svc.Financial(context.Background(), from, to, "day"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("inverted range err = %v, want ValidationError", err)
	}
}

func TestOutstanding(t *testing.T) {
	repo := &mockRepo{
		aging: []AgingBucket{
			{CurrencyCode: "USD", Bucket: "0-30", InvoiceCount: 3, OutstandingUnits: 45000},
			{CurrencyCode: "USD", Bucket: "90+", InvoiceCount: 1, OutstandingUnits: 10050},
		},
	}
	svc := newTestService(repo)

	buckets, err := svc.Outstanding(context.Background())
	if err != nil {
		t.Fatalf("Outstanding: %v", err)
	}
	if buckets[0].Outstanding.String() != "450" {
		t.Errorf("0-30 outstanding = %s, want 450", buckets[0].Outstanding)
	}
	if buckets[1].Outstanding.String() != "100.5" {
		t.Errorf("90+ outstanding = %s, want 100.5", buckets[1].Outstanding)
	}
}

func TestPaymentMethods(t *testing.T) {
	repo := &mockRepo{
		methods: []MethodBreakdown{
			{CurrencyCode: "KES", Method: "mobile_money", Count: 4, AmountUnits: 380000},
			{CurrencyCode: "USD", Method: "cash", Count: 2, AmountUnits: 15000},
		},
	}
	svc := newTestService(repo)

	breakdown, err := svc.PaymentMethods(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("PaymentMethods: %v", err)
	}
	if breakdown[0].Amount.String() != "3800" {
		t.Errorf("KES mobile money = %s, want 3800", breakdown[0].Amount)
	}
	if breakdown[1].Amount.String() != "150" {
		t.Errorf("USD cash = %s, want 150", breakdown[1].Amount)
	}
	if repo.lastTo != svc.now() {
		t.Errorf("to defaulted to %v, want now", repo.lastTo)
	}
}
