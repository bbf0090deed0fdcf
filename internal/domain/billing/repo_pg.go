package billing

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/pagination"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// =========== Bill Repository ===========

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository { return &billRepoPG{pool: pool} }

const billCols = `id, bill_number, patient_id, encounter_id,
	sub_total, discount, discount_amount, discount_percent, tax,
	total_amount, amount_paid, balance_due, payment_status,
	voided, currency, notes, created_at, updated_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.BillNumber, &b.PatientID, &b.EncounterID,
		&b.SubTotal, &b.Discount, &b.DiscountAmount, &b.DiscountPercent, &b.Tax,
		&b.TotalAmount, &b.AmountPaid, &b.BalanceDue, &b.PaymentStatus,
		&b.Voided, &b.Currency, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

func (r *billRepoPG) Create(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	if b.BillNumber == "" {
		b.BillNumber = "B-" + strings.ToUpper(b.ID.String()[:8])
	}
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO bills (id, bill_number, patient_id, encounter_id,
			sub_total, discount, discount_amount, discount_percent, tax,
			total_amount, amount_paid, balance_due, payment_status,
			voided, currency, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		b.ID, b.BillNumber, b.PatientID, b.EncounterID,
		b.SubTotal, b.Discount, b.DiscountAmount, b.DiscountPercent, b.Tax,
		b.TotalAmount, b.AmountPaid, b.BalanceDue, b.PaymentStatus,
		b.Voided, b.Currency, b.Notes).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *billRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return scanBill(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+billCols+` FROM bills WHERE id = $1`, id))
}

func (r *billRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return scanBill(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+billCols+` FROM bills WHERE id = $1 FOR UPDATE`, id))
}

func (r *billRepoPG) Update(ctx context.Context, b *Bill) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE bills SET sub_total=$2, discount=$3, discount_amount=$4, discount_percent=$5,
			tax=$6, total_amount=$7, amount_paid=$8, balance_due=$9, payment_status=$10,
			voided=$11, notes=$12, updated_at=NOW()
		WHERE id = $1`,
		b.ID, b.SubTotal, b.Discount, b.DiscountAmount, b.DiscountPercent,
		b.Tax, b.TotalAmount, b.AmountPaid, b.BalanceDue, b.PaymentStatus,
		b.Voided, b.Notes)
	return err
}

func (r *billRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, p pagination.Params) ([]*Bill, int, error) {
	c := conn(ctx, r.pool)
	var total int
	if err := c.QueryRow(ctx, `SELECT COUNT(*) FROM bills WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := c.Query(ctx, `SELECT `+billCols+` FROM bills WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var bills []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		bills = append(bills, b)
	}
	return bills, total, rows.Err()
}

// =========== Item Repository ===========

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository { return &itemRepoPG{pool: pool} }

const itemCols = `id, bill_id, source_type, source_id, description,
	quantity, unit_price, discount_amount, discount_percent, total_price,
	created_at, updated_at`

func scanItem(row pgx.Row) (*BillItem, error) {
	var i BillItem
	err := row.Scan(&i.ID, &i.BillID, &i.SourceType, &i.SourceID, &i.Description,
		&i.Quantity, &i.UnitPrice, &i.DiscountAmount, &i.DiscountPercent, &i.TotalPrice,
		&i.CreatedAt, &i.UpdatedAt)
	return &i, err
}

func (r *itemRepoPG) Add(ctx context.Context, item *BillItem) error {
	item.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO bill_items (id, bill_id, source_type, source_id, description,
			quantity, unit_price, discount_amount, discount_percent, total_price)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		item.ID, item.BillID, item.SourceType, item.SourceID, item.Description,
		item.Quantity, item.UnitPrice, item.DiscountAmount, item.DiscountPercent, item.TotalPrice).
		Scan(&item.CreatedAt, &item.UpdatedAt)
}

func (r *itemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BillItem, error) {
	return scanItem(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+itemCols+` FROM bill_items WHERE id = $1`, id))
}

func (r *itemRepoPG) Update(ctx context.Context, item *BillItem) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE bill_items SET description=$2, quantity=$3, unit_price=$4,
			discount_amount=$5, discount_percent=$6, total_price=$7, updated_at=NOW()
		WHERE id = $1`,
		item.ID, item.Description, item.Quantity, item.UnitPrice,
		item.DiscountAmount, item.DiscountPercent, item.TotalPrice)
	return err
}

func (r *itemRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM bill_items WHERE id = $1`, id)
	return err
}

func (r *itemRepoPG) ListByBill(ctx context.Context, billID uuid.UUID) ([]*BillItem, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+itemCols+` FROM bill_items WHERE bill_id = $1 ORDER BY created_at`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BillItem
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (r *itemRepoPG) ExistsBySource(ctx context.Context, billID uuid.UUID, source ItemSource, sourceID uuid.UUID) (bool, error) {
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bill_items WHERE bill_id = $1 AND source_type = $2 AND source_id = $3
		)`, billID, source, sourceID).Scan(&exists)
	return exists, err
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

const paymentCols = `id, bill_id, amount, payment_method, status,
	tendered_amount, change_due, reference, notes, void_reason,
	received_by, received_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.BillID, &p.Amount, &p.Method, &p.Status,
		&p.TenderedAmount, &p.ChangeDue, &p.Reference, &p.Notes, &p.VoidReason,
		&p.ReceivedBy, &p.ReceivedAt, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO payments (id, bill_id, amount, payment_method, status,
			tendered_amount, change_due, reference, notes, void_reason,
			received_by, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		p.ID, p.BillID, p.Amount, p.Method, p.Status,
		p.TenderedAmount, p.ChangeDue, p.Reference, p.Notes, p.VoidReason,
		p.ReceivedBy, p.ReceivedAt).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scanPayment(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE id = $1`, id))
}

func (r *paymentRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scanPayment(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE id = $1 FOR UPDATE`, id))
}

func (r *paymentRepoPG) Update(ctx context.Context, p *Payment) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE payments SET status=$2, void_reason=$3, notes=$4, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Status, p.VoidReason, p.Notes)
	return err
}

func (r *paymentRepoPG) ListByBill(ctx context.Context, billID uuid.UUID) ([]*Payment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+paymentCols+` FROM payments WHERE bill_id = $1 ORDER BY received_at`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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

func (r *paymentRepoPG) SumCompletedByBill(ctx context.Context, billID uuid.UUID) (float64, error) {
	var sum float64
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payments
		WHERE bill_id = $1 AND status = $2`, billID, PaymentCompleted).Scan(&sum)
	return sum, err
}

func (r *paymentRepoPG) AddRefund(ctx context.Context, ref *BillRefund) error {
	ref.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO bill_refunds (id, payment_id, bill_id, amount, reason, status, refunded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		ref.ID, ref.PaymentID, ref.BillID, ref.Amount, ref.Reason, ref.Status, ref.RefundedBy).
		Scan(&ref.CreatedAt)
}

func (r *paymentRepoPG) ListRefundsByPayment(ctx context.Context, paymentID uuid.UUID) ([]*BillRefund, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, payment_id, bill_id, amount, reason, status, refunded_by, created_at
		FROM bill_refunds WHERE payment_id = $1 ORDER BY created_at`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refunds []*BillRefund
	for rows.Next() {
		var ref BillRefund
		if err := rows.Scan(&ref.ID, &ref.PaymentID, &ref.BillID, &ref.Amount,
			&ref.Reason, &ref.Status, &ref.RefundedBy, &ref.CreatedAt); err != nil {
			return nil, err
		}
		refunds = append(refunds, &ref)
	}
	return refunds, rows.Err()
}

func (r *paymentRepoPG) SumCompletedRefundsByPayment(ctx context.Context, paymentID uuid.UUID) (float64, error) {
	var sum float64
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM bill_refunds
		WHERE payment_id = $1 AND status = $2`, paymentID, PaymentCompleted).Scan(&sum)
	return sum, err
}

func (r *paymentRepoPG) SumCompletedRefundsByBill(ctx context.Context, billID uuid.UUID) (float64, error) {
	var sum float64
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM bill_refunds
		WHERE bill_id = $1 AND status = $2`, billID, PaymentCompleted).Scan(&sum)
	return sum, err
}

// =========== History Repository ===========

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository { return &historyRepoPG{pool: pool} }

func (r *historyRepoPG) Append(ctx context.Context, h *BillStatusHistory) error {
	h.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO bill_status_history (id, bill_id, from_status, to_status, note, changed_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		h.ID, h.BillID, h.FromStatus, h.ToStatus, h.Note, h.ChangedBy).Scan(&h.CreatedAt)
}

func (r *historyRepoPG) ListByBill(ctx context.Context, billID uuid.UUID) ([]*BillStatusHistory, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, bill_id, from_status, to_status, note, changed_by, created_at
		FROM bill_status_history WHERE bill_id = $1 ORDER BY created_at`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []*BillStatusHistory
	for rows.Next() {
		var h BillStatusHistory
		if err := rows.Scan(&h.ID, &h.BillID, &h.FromStatus, &h.ToStatus,
			&h.Note, &h.ChangedBy, &h.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &h)
	}
	return entries, rows.Err()
}
