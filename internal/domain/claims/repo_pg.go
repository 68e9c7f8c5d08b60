package claims

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/domain/billing"
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

const claimCols = `i.id, i.invoice_number, i.patient_id, i.currency_code, i.total_units,
	i.insurance_claim, COALESCE(p.first_name || ' ' || p.last_name, '')`

func (r *repoPG) ListClaimed(ctx context.Context, status string, limit, offset int) ([]*billing.Invoice, int, error) {
	where := ` WHERE i.insurance_claim IS NOT NULL`
	var args []interface{}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(` AND i.insurance_claim->>'status' = $%d`, len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM invoices i`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+claimCols+`
		FROM invoices i LEFT JOIN patients p ON p.id = i.patient_id`+where+`
		ORDER BY i.created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var invoices []*billing.Invoice
	for rows.Next() {
		var inv billing.Invoice
		var claim []byte
		if err := rows.Scan(&inv.ID, &inv.InvoiceNumber, &inv.PatientID, &inv.CurrencyCode,
			&inv.TotalUnits, &claim, &inv.PatientName); err != nil {
			return nil, 0, err
		}
		inv.InsuranceClaim = &billing.InsuranceClaim{}
		if err := json.Unmarshal(claim, inv.InsuranceClaim); err != nil {
			return nil, 0, fmt.Errorf("decode claim for invoice %s: %w", inv.ID, err)
		}
		invoices = append(invoices, &inv)
	}
	return invoices, total, rows.Err()
}

func (r *repoPG) Stats(ctx context.Context) ([]Stat, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT insurance_claim->>'status',
			COUNT(*),
			COALESCE(SUM((insurance_claim->>'claimed_units')::bigint), 0),
			COALESCE(SUM((insurance_claim->>'approved_units')::bigint), 0)
		FROM invoices
		WHERE insurance_claim IS NOT NULL
		GROUP BY insurance_claim->>'status'
		ORDER BY insurance_claim->>'status'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []Stat
	for rows.Next() {
		var s Stat
		if err := rows.Scan(&s.Status, &s.Count, &s.ClaimedUnits, &s.ApprovedUnits); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
