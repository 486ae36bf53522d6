package database

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// PaymentStatus is the lifecycle state of a payment record.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentUnknown   PaymentStatus = "unknown"
)

// PaymentOrigin distinguishes how a payment entered the system.
type PaymentOrigin string

const (
	OriginInvoiceIncoming     PaymentOrigin = "invoice_incoming"
	OriginInvoiceOutgoing     PaymentOrigin = "invoice_outgoing"
	OriginSpontaneousIncoming PaymentOrigin = "spontaneous_incoming"
	OriginSpontaneousOutgoing PaymentOrigin = "spontaneous_outgoing"
)

// Payment is one payment record, scoped to a tenant by pubkey.
type Payment struct {
	TenantPubkey string
	PaymentHash  string
	Preimage     string
	Secret       string
	Status       PaymentStatus
	Origin       PaymentOrigin
	AmountMsat   *int64
	Label        string
	Invoice      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UpsertPayment inserts a new payment or updates an existing one for the
// same (tenant, hash) pair, matching EventHandler's PaymentReceived
// contract: "if an existing record for the hash exists ... update ...
// otherwise insert."
func (db *DB) UpsertPayment(ctx context.Context, p *Payment) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO payments (tenant_pubkey, payment_hash, preimage, secret,
			status, origin, amount_msat, label, invoice)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_pubkey, payment_hash) DO UPDATE SET
			preimage = EXCLUDED.preimage,
			secret = COALESCE(NULLIF(EXCLUDED.secret, ''), payments.secret),
			status = EXCLUDED.status,
			amount_msat = COALESCE(EXCLUDED.amount_msat, payments.amount_msat),
			updated_at = now()
	`, p.TenantPubkey, p.PaymentHash, p.Preimage, p.Secret, p.Status,
		p.Origin, p.AmountMsat, p.Label, p.Invoice)
	if err != nil {
		return lnerrors.ChainFatal(err, "upsert payment %s/%s", p.TenantPubkey, p.PaymentHash)
	}
	return nil
}

// InsertPendingInvoice inserts a Pending payment row when an invoice is
// created via GetInvoice, before any PaymentReceived event has arrived.
func (db *DB) InsertPendingInvoice(ctx context.Context, p *Payment) error {
	p.Status = PaymentPending
	_, err := db.pool.Exec(ctx, `
		INSERT INTO payments (tenant_pubkey, payment_hash, status, origin,
			amount_msat, label, invoice)
		VALUES ($1, $2, 'pending', $3, $4, $5, $6)
	`, p.TenantPubkey, p.PaymentHash, p.Origin, p.AmountMsat, p.Label, p.Invoice)
	if err != nil {
		return lnerrors.ChainFatal(err, "insert pending invoice %s/%s", p.TenantPubkey, p.PaymentHash)
	}
	return nil
}

// SetPaymentStatus updates just the status (and preimage, if non-empty)
// for PaymentSent/PaymentFailed handling.
func (db *DB) SetPaymentStatus(ctx context.Context, tenantPubkey, hash string, status PaymentStatus, preimage string) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE payments SET status = $1,
			preimage = COALESCE(NULLIF($2, ''), preimage),
			updated_at = now()
		WHERE tenant_pubkey = $3 AND payment_hash = $4
	`, status, preimage, tenantPubkey, hash)
	if err != nil {
		return lnerrors.ChainFatal(err, "set payment status %s/%s", tenantPubkey, hash)
	}
	return nil
}

// GetPayment looks up a single payment by hash.
func (db *DB) GetPayment(ctx context.Context, tenantPubkey, hash string) (*Payment, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT tenant_pubkey, payment_hash, preimage, secret, status, origin,
			amount_msat, label, invoice, created_at, updated_at
		FROM payments WHERE tenant_pubkey = $1 AND payment_hash = $2
	`, tenantPubkey, hash)
	p, err := scanPayment(row)
	if err != nil {
		return nil, noRows(err, "payment %s not found", hash)
	}
	return p, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.TenantPubkey, &p.PaymentHash, &p.Preimage, &p.Secret,
		&p.Status, &p.Origin, &p.AmountMsat, &p.Label, &p.Invoice,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Page is a pagination window: Offset/Limit in; PagedPayments carries
// Total/HasMore out.
type Page struct {
	Offset int
	Limit  int
}

// PagedPayments is the result of a paginated payment listing.
type PagedPayments struct {
	Payments []*Payment
	Total    int
	HasMore  bool
}

// ListPayments returns a page of payments, optionally filtered by status
// and/or a substring match against label/invoice ("query").
func (db *DB) ListPayments(ctx context.Context, tenantPubkey string, status *PaymentStatus, query string, page Page) (*PagedPayments, error) {
	where := "WHERE tenant_pubkey = $1"
	args := []interface{}{tenantPubkey}
	idx := 2

	if status != nil {
		where += " AND status = $" + itoa(idx)
		args = append(args, *status)
		idx++
	}
	if query != "" {
		where += " AND (label ILIKE $" + itoa(idx) + " OR invoice ILIKE $" + itoa(idx) + " OR payment_hash ILIKE $" + itoa(idx) + ")"
		args = append(args, "%"+query+"%")
		idx++
	}

	var total int
	countQuery := "SELECT count(*) FROM payments " + where
	if err := db.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, lnerrors.ChainFatal(err, "count payments")
	}

	if total == 0 || page.Limit == 0 {
		return &PagedPayments{Payments: nil, Total: total, HasMore: false}, nil
	}

	listQuery := "SELECT tenant_pubkey, payment_hash, preimage, secret, status, origin, amount_msat, label, invoice, created_at, updated_at FROM payments " +
		where + " ORDER BY created_at DESC LIMIT $" + itoa(idx) + " OFFSET $" + itoa(idx+1)
	args = append(args, page.Limit, page.Offset)

	rows, err := db.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, lnerrors.ChainFatal(err, "list payments")
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, lnerrors.ChainFatal(err, "scan payment row")
		}
		out = append(out, p)
	}

	hasMore := page.Offset+len(out) < total
	return &PagedPayments{Payments: out, Total: total, HasMore: hasMore}, rows.Err()
}

// LabelPayment sets a payment's user-facing label.
func (db *DB) LabelPayment(ctx context.Context, tenantPubkey, hash, label string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE payments SET label = $1, updated_at = now() WHERE tenant_pubkey = $2 AND payment_hash = $3`,
		label, tenantPubkey, hash,
	)
	if err != nil {
		return lnerrors.ChainFatal(err, "label payment %s", hash)
	}
	if tag.RowsAffected() == 0 {
		return lnerrors.NotFound("payment %s not found", hash)
	}
	return nil
}

// DeletePayment removes a payment record.
func (db *DB) DeletePayment(ctx context.Context, tenantPubkey, hash string) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM payments WHERE tenant_pubkey = $1 AND payment_hash = $2`,
		tenantPubkey, hash,
	)
	if err != nil {
		return lnerrors.ChainFatal(err, "delete payment %s", hash)
	}
	if tag.RowsAffected() == 0 {
		return lnerrors.NotFound("payment %s not found", hash)
	}
	return nil
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
