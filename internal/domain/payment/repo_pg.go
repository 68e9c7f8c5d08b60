package payment

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const payCols = `id, payment_number, transaction_id, invoice_id, patient_id,
	amount_units, currency_code, method, status,
	provider, provider_ref, failure_reason, retry_count, max_retries,
	cash_received_units, change_due_units, reference, notes, received_by,
	refund, expires_at, completed_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var refund []byte
	err := row.Scan(&p.ID, &p.PaymentNumber, &p.TransactionID, &p.InvoiceID, &p.PatientID,
		&p.AmountUnits, &p.CurrencyCode, &p.Method, &p.Status,
		&p.Provider, &p.ProviderRef, &p.FailureReason, &p.RetryCount, &p.MaxRetries,
		&p.CashReceivedUnits, &p.ChangeDueUnits, &p.Reference, &p.Notes, &p.ReceivedBy,
		&refund, &p.ExpiresAt, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("payment not found")
		}
		return nil, err
	}
	if len(refund) > 0 && string(refund) != "null" {
		p.Refund = &RefundData{}
		if err := json.Unmarshal(refund, p.Refund); err != nil {
			return nil, fmt.Errorf("decode refund for payment %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func marshalRefund(rd *RefundData) ([]byte, error) {
	if rd == nil {
		return nil, nil
	}
	return json.Marshal(rd)
}

func (r *repoPG) Create(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	refund, err := marshalRefund(p.Refund)
	if err != nil {
		return err
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, payment_number, transaction_id, invoice_id, patient_id,
			amount_units, currency_code, method, status,
			provider, provider_ref, failure_reason, retry_count, max_retries,
			cash_received_units, change_due_units, reference, notes, received_by,
			refund, expires_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING created_at, updated_at`,
		p.ID, p.PaymentNumber, p.TransactionID, p.InvoiceID, p.PatientID,
		p.AmountUnits, p.CurrencyCode, p.Method, p.Status,
		p.Provider, p.ProviderRef, p.FailureReason, p.RetryCount, p.MaxRetries,
		p.CashReceivedUnits, p.ChangeDueUnits, p.Reference, p.Notes, p.ReceivedBy,
		refund, p.ExpiresAt, p.CompletedAt)
	return row.Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+payCols+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (r *repoPG) GetByTransactionID(ctx context.Context, txnID string) (*Payment, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+payCols+` FROM payments WHERE transaction_id = $1`, txnID)
	return scanPayment(row)
}

func (r *repoPG) GetByProviderRef(ctx context.Context, ref string) (*Payment, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+payCols+` FROM payments WHERE provider_ref = $1`, ref)
	return scanPayment(row)
}

// GetByIDForUpdate relies on FOR UPDATE being a no-op outside an
// explicit transaction, where each statement commits on its own.
func (r *repoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+payCols+` FROM payments WHERE id = $1 FOR UPDATE`, id)
	return scanPayment(row)
}

func (r *repoPG) GetByProviderRefForUpdate(ctx context.Context, ref string) (*Payment, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+payCols+` FROM payments WHERE provider_ref = $1 FOR UPDATE`, ref)
	return scanPayment(row)
}

func (r *repoPG) Update(ctx context.Context, p *Payment) error {
	refund, err := marshalRefund(p.Refund)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments SET status = $2, provider_ref = $3, failure_reason = $4,
			retry_count = $5, refund = $6, expires_at = $7, completed_at = $8,
			reference = $9, notes = $10, updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.Status, p.ProviderRef, p.FailureReason,
		p.RetryCount, refund, p.ExpiresAt, p.CompletedAt, p.Reference, p.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("payment %s not found", p.ID)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Payment, int, error) {
	where := ""
	var args []interface{}
	add := func(cond string, val interface{}) {
		args = append(args, val)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(cond, len(args))
	}
	if f.InvoiceID != uuid.Nil {
		add("invoice_id = $%d", f.InvoiceID)
	}
	if f.PatientID != uuid.Nil {
		add("patient_id = $%d", f.PatientID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Method != "" {
		add("method = $%d", f.Method)
	}
	if f.Provider != "" {
		add("provider = $%d", f.Provider)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM payments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+payCols+` FROM payments`+where+
		` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	payments, err := collectPayments(rows)
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func collectPayments(rows pgx.Rows) ([]*Payment, error) {
	var payments []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *repoPG) ListExpiredPending(ctx context.Context, cutoff time.Time) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+payCols+` FROM payments
		 WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *repoPG) ListStalePending(ctx context.Context, cutoff time.Time) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+payCols+` FROM payments
		 WHERE status = 'pending' AND method = 'card' AND created_at <= $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *repoPG) ListExpiringSoon(ctx context.Context, from, to time.Time) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+payCols+` FROM payments
		 WHERE status = 'pending' AND expires_at > $1 AND expires_at <= $2`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *repoPG) Stats(ctx context.Context, from, to *time.Time) ([]Stat, error) {
	where := ""
	var args []interface{}
	if from != nil {
		args = append(args, *from)
		where = fmt.Sprintf(" WHERE created_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		if where == "" {
			where = fmt.Sprintf(" WHERE created_at < $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND created_at < $%d", len(args))
		}
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT currency_code, method, status, COUNT(*), COALESCE(SUM(amount_units), 0)
		 FROM payments`+where+`
		 GROUP BY currency_code, method, status
		 ORDER BY currency_code, method, status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []Stat
	for rows.Next() {
		var s Stat
		if err := rows.Scan(&s.CurrencyCode, &s.Method, &s.Status, &s.Count, &s.AmountUnits); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
