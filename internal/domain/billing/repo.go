package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/hms/hms/pkg/pagination"
)

type BillRepository interface {
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	// GetByIDForUpdate locks the bill row for the duration of the enclosing
	// transaction so concurrent balance checks cannot race each other.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error)
	Update(ctx context.Context, b *Bill) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, p pagination.Params) ([]*Bill, int, error)
}

type ItemRepository interface {
	Add(ctx context.Context, item *BillItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*BillItem, error)
	Update(ctx context.Context, item *BillItem) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByBill(ctx context.Context, billID uuid.UUID) ([]*BillItem, error)
	ExistsBySource(ctx context.Context, billID uuid.UUID, source ItemSource, sourceID uuid.UUID) (bool, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	ListByBill(ctx context.Context, billID uuid.UUID) ([]*Payment, error)
	SumCompletedByBill(ctx context.Context, billID uuid.UUID) (float64, error)
	// Refunds
	AddRefund(ctx context.Context, r *BillRefund) error
	ListRefundsByPayment(ctx context.Context, paymentID uuid.UUID) ([]*BillRefund, error)
	SumCompletedRefundsByPayment(ctx context.Context, paymentID uuid.UUID) (float64, error)
	SumCompletedRefundsByBill(ctx context.Context, billID uuid.UUID) (float64, error)
}

type HistoryRepository interface {
	Append(ctx context.Context, h *BillStatusHistory) error
	ListByBill(ctx context.Context, billID uuid.UUID) ([]*BillStatusHistory, error)
}
