package reports

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) CurrencySummaries(ctx context.Context, from, to time.Time) ([]CurrencySummary, error) {
	byCurrency := make(map[string]*CurrencySummary)
	get := func(code string) *CurrencySummary {
		s, ok := byCurrency[code]
		if !ok {
			s = &CurrencySummary{CurrencyCode: code}
			byCurrency[code] = s
		}
		return s
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT currency_code, COUNT(*),
			COALESCE(SUM(total_units), 0),
			COALESCE(SUM(paid_units), 0),
			COALESCE(SUM(GREATEST(total_units - paid_units, 0)), 0)
		FROM invoices
		WHERE status <> 'cancelled' AND created_at >= $1 AND created_at < $2
		GROUP BY currency_code`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		var count int
		var invoiced, paid, outstanding int64
		if err := rows.Scan(&code, &count, &invoiced, &paid, &outstanding); err != nil {
			return nil, err
		}
		s := get(code)
		s.InvoiceCount = count
		s.InvoicedUnits = invoiced
		s.PaidUnits = paid
		s.OutstandingUnits = outstanding
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT currency_code,
			COUNT(*) FILTER (WHERE status = 'completed'),
			COALESCE(SUM((refund->>'amount_units')::bigint) FILTER (WHERE status = 'refunded'), 0)
		FROM payments
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY currency_code`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		var completed int
		var refunded int64
		if err := rows.Scan(&code, &completed, &refunded); err != nil {
			return nil, err
		}
		s := get(code)
		s.PaymentCount = completed
		s.RefundedUnits = refunded
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]CurrencySummary, 0, len(byCurrency))
	for _, s := range byCurrency {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrencyCode < out[j].CurrencyCode })
	return out, nil
}

func (r *repoPG) TimeSeries(ctx context.Context, from, to time.Time, groupBy string) ([]TimeBucket, error) {
	type key struct {
		period   time.Time
		currency string
	}
	byKey := make(map[key]*TimeBucket)
	get := func(period time.Time, code string) *TimeBucket {
		k := key{period, code}
		b, ok := byKey[k]
		if !ok {
			b = &TimeBucket{Period: period, CurrencyCode: code}
			byKey[k] = b
		}
		return b
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT date_trunc($3, created_at) AS period, currency_code,
			COUNT(*), COALESCE(SUM(total_units), 0)
		FROM invoices
		WHERE status <> 'cancelled' AND created_at >= $1 AND created_at < $2
		GROUP BY period, currency_code`, from, to, groupBy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var period time.Time
		var code string
		var count int
		var invoiced int64
		if err := rows.Scan(&period, &code, &count, &invoiced); err != nil {
			return nil, err
		}
		b := get(period, code)
		b.InvoiceCount = count
		b.InvoicedUnits = invoiced
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT date_trunc($3, completed_at) AS period, currency_code,
			COUNT(*), COALESCE(SUM(amount_units), 0)
		FROM payments
		WHERE status = 'completed' AND completed_at >= $1 AND completed_at < $2
		GROUP BY period, currency_code`, from, to, groupBy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var period time.Time
		var code string
		var count int
		var paid int64
		if err := rows.Scan(&period, &code, &count, &paid); err != nil {
			return nil, err
		}
		b := get(period, code)
		b.PaymentCount = count
		b.PaidUnits = paid
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]TimeBucket, 0, len(byKey))
	for _, b := range byKey {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Period.Equal(out[j].Period) {
			return out[i].Period.Before(out[j].Period)
		}
		return out[i].CurrencyCode < out[j].CurrencyCode
	})
	return out, nil
}

func (r *repoPG) Aging(ctx context.Context, asOf time.Time) ([]AgingBucket, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT currency_code,
			CASE
				WHEN $1::date - due_date::date <= 30 THEN '0-30'
				WHEN $1::date - due_date::date <= 60 THEN '31-60'
				WHEN $1::date - due_date::date <= 90 THEN '61-90'
				ELSE '90+'
			END AS bucket,
			COUNT(*), COALESCE(SUM(total_units - paid_units), 0)
		FROM invoices
		WHERE status <> 'cancelled' AND total_units - paid_units > 0 AND due_date < $1
		GROUP BY currency_code, bucket
		ORDER BY currency_code, bucket`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgingBucket
	for rows.Next() {
		var b AgingBucket
		if err := rows.Scan(&b.CurrencyCode, &b.Bucket, &b.InvoiceCount, &b.OutstandingUnits); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *repoPG) PaymentMethods(ctx context.Context, from, to time.Time) ([]MethodBreakdown, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT currency_code, method, COUNT(*), COALESCE(SUM(amount_units), 0)
		FROM payments
		WHERE status = 'completed' AND completed_at >= $1 AND completed_at < $2
		GROUP BY currency_code, method
		ORDER BY currency_code, method`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MethodBreakdown
	for rows.Next() {
		var m MethodBreakdown
		if err := rows.Scan(&m.CurrencyCode, &m.Method, &m.Count, &m.AmountUnits); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
