package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const invCols = `i.id, i.invoice_number, i.patient_id, i.currency_code, i.line_items,
	i.subtotal_units, i.tax_units, i.discount_units, i.total_units, i.paid_units,
	i.status, i.payment_status, i.due_date, i.insurance_claim,
	i.notes, i.created_by, i.created_at, i.updated_at,
	COALESCE(p.first_name || ' ' || p.last_name, '')`

const invJoin = ` FROM invoices i LEFT JOIN patients p ON p.id = i.patient_id`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var lineItems, claim []byte
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.PatientID, &inv.CurrencyCode, &lineItems,
		&inv.SubtotalUnits, &inv.TaxUnits, &inv.DiscountUnits, &inv.TotalUnits, &inv.PaidUnits,
		&inv.Status, &inv.PaymentStatus, &inv.DueDate, &claim,
		&inv.Notes, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt,
		&inv.PatientName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("invoice not found")
		}
		return nil, err
	}
	if err := json.Unmarshal(lineItems, &inv.LineItems); err != nil {
		return nil, fmt.Errorf("decode line items for invoice %s: %w", inv.ID, err)
	}
	if len(claim) > 0 && string(claim) != "null" {
		inv.InsuranceClaim = &InsuranceClaim{}
		if err := json.Unmarshal(claim, inv.InsuranceClaim); err != nil {
			return nil, fmt.Errorf("decode insurance claim for invoice %s: %w", inv.ID, err)
		}
	}
	return &inv, nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	lineItems, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	claim, err := marshalClaim(inv.InsuranceClaim)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO invoices (id, invoice_number, patient_id, currency_code, line_items,
			subtotal_units, tax_units, discount_units, total_units, paid_units,
			status, payment_status, due_date, insurance_claim, notes, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		inv.ID, inv.InvoiceNumber, inv.PatientID, inv.CurrencyCode, lineItems,
		inv.SubtotalUnits, inv.TaxUnits, inv.DiscountUnits, inv.TotalUnits, inv.PaidUnits,
		inv.Status, inv.PaymentStatus, inv.DueDate, claim, inv.Notes, inv.CreatedBy)
	return err
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invCols+invJoin+` WHERE i.id = $1`, id))
}

func (r *invoiceRepoPG) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	return scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invCols+invJoin+` WHERE i.invoice_number = $1`, number))
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	// FOR UPDATE cannot follow an outer join, so lock the row first and
	// then read through the joined view.
	if tx := db.TxFromContext(ctx); tx != nil {
		var locked uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM invoices WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperr.NotFound("invoice not found")
			}
			return nil, err
		}
	}
	return r.GetByID(ctx, id)
}

func (r *invoiceRepoPG) Update(ctx context.Context, inv *Invoice) error {
	lineItems, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	claim, err := marshalClaim(inv.InsuranceClaim)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoices SET line_items=$2, subtotal_units=$3, tax_units=$4, discount_units=$5,
			total_units=$6, paid_units=$7, status=$8, payment_status=$9, due_date=$10,
			insurance_claim=$11, notes=$12, updated_at=NOW()
		WHERE id = $1`,
		inv.ID, lineItems, inv.SubtotalUnits, inv.TaxUnits, inv.DiscountUnits,
		inv.TotalUnits, inv.PaidUnits, inv.Status, inv.PaymentStatus, inv.DueDate,
		claim, inv.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("invoice not found")
	}
	return nil
}

func (r *invoiceRepoPG) List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	n := 0
	add := func(cond string, val interface{}) {
		n++
		where += fmt.Sprintf(" AND "+cond, n)
		args = append(args, val)
	}

	if f.PatientID != uuid.Nil {
		add("i.patient_id = $%d", f.PatientID)
	}
	if f.Status != "" {
		add("i.status = $%d", f.Status)
	}
	if f.PaymentStatus != "" {
		add("i.payment_status = $%d", f.PaymentStatus)
	}
	if f.Currency != "" {
		add("i.currency_code = $%d", f.Currency)
	}
	if f.MinTotalUnits != nil {
		add("i.total_units >= $%d", *f.MinTotalUnits)
	}
	if f.MaxTotalUnits != nil {
		add("i.total_units <= $%d", *f.MaxTotalUnits)
	}
	if f.From != nil {
		add("i.created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("i.created_at <= $%d", *f.To)
	}
	if f.Overdue {
		add("i.due_date < $%d AND i.payment_status <> 'paid' AND i.status <> 'cancelled'", time.Now())
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoices i`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + invCols + invJoin + where +
		fmt.Sprintf(` ORDER BY i.created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, total, rows.Err()
}

func (r *invoiceRepoPG) ListUnpaidByPatient(ctx context.Context, patientID uuid.UUID) ([]*Invoice, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+invCols+invJoin+` WHERE i.patient_id = $1
		 AND i.status <> 'cancelled' AND i.payment_status <> 'paid'
		 ORDER BY i.due_date NULLS LAST, i.created_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func marshalClaim(c *InsuranceClaim) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode insurance claim: %w", err)
	}
	return b, nil
}
