package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/validate"
	"github.com/hms/hms/pkg/pagination"
)

// SystemActor is used for operations not initiated by a user, such as the
// recalculation command of the ops CLI.
var SystemActor = Actor{Name: "system"}

// CalcService recomputes the monetary fields of a bill. It is the single
// mutation path for sub_total, discount, tax, total_amount, amount_paid,
// balance_due and payment_status.
type CalcService struct {
	bills    BillRepository
	items    ItemRepository
	payments PaymentRepository
	history  HistoryRepository
	tx       db.TxManager
	taxRate  float64 // percent, 0..100
	log      zerolog.Logger
}

func NewCalcService(bills BillRepository, items ItemRepository, payments PaymentRepository, history HistoryRepository, tx db.TxManager, taxRatePercent float64, log zerolog.Logger) *CalcService {
	return &CalcService{
		bills:    bills,
		items:    items,
		payments: payments,
		history:  history,
		tx:       tx,
		taxRate:  taxRatePercent,
		log:      log,
	}
}

// CreateBillInput is the typed command for opening a new bill.
type CreateBillInput struct {
	PatientID   uuid.UUID  `validate:"required"`
	EncounterID *uuid.UUID `validate:"-"`
	Currency    string     `validate:"omitempty,len=3"`
	Notes       *string    `validate:"-"`
}

// CreateBill opens an empty bill for a patient encounter.
func (s *CalcService) CreateBill(ctx context.Context, actor Actor, in CreateBillInput) (*Bill, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	b := &Bill{
		PatientID:     in.PatientID,
		EncounterID:   in.EncounterID,
		Currency:      strings.ToUpper(in.Currency),
		Notes:         in.Notes,
		PaymentStatus: BillPending,
	}
	if b.Currency == "" {
		b.Currency = "USD"
	}
	if err := s.bills.Create(ctx, b); err != nil {
		return nil, s.wrap(err, "create bill failed")
	}
	return b, nil
}

// GetBill returns a bill by id.
func (s *CalcService) GetBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	b, err := s.bills.GetByID(ctx, id)
	if err != nil {
		return nil, s.wrap(err, "load bill failed")
	}
	return b, nil
}

// ListBillsByPatient returns a page of a patient's bills.
func (s *CalcService) ListBillsByPatient(ctx context.Context, patientID uuid.UUID, p pagination.Params) ([]*Bill, int, error) {
	p.Normalize()
	bills, total, err := s.bills.ListByPatient(ctx, patientID, p)
	if err != nil {
		return nil, 0, s.wrap(err, "list bills failed")
	}
	return bills, total, nil
}

// ListItems returns all line items of a bill.
func (s *CalcService) ListItems(ctx context.Context, billID uuid.UUID) ([]*BillItem, error) {
	items, err := s.items.ListByBill(ctx, billID)
	if err != nil {
		return nil, s.wrap(err, "list bill items failed")
	}
	return items, nil
}

// History returns the status-transition log of a bill.
func (s *CalcService) History(ctx context.Context, billID uuid.UUID) ([]*BillStatusHistory, error) {
	hs, err := s.history.ListByBill(ctx, billID)
	if err != nil {
		return nil, s.wrap(err, "list bill history failed")
	}
	return hs, nil
}

// CalculateTotals recomputes every monetary field of the bill from its line
// items, completed payments and completed refunds, and persists them
// atomically. Calling it twice with no intervening changes yields identical
// values.
func (s *CalcService) CalculateTotals(ctx context.Context, billID uuid.UUID) (*Bill, error) {
	var bill *Bill
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.bills.GetByIDForUpdate(ctx, billID)
		if err != nil {
			return apperr.NotFound("bill", billID)
		}
		if err := s.recalculate(ctx, SystemActor, b); err != nil {
			return err
		}
		bill = b
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "bill calculation failed")
	}
	return bill, nil
}

// recalculate performs the arithmetic pipeline on a bill already locked by
// the enclosing transaction and persists the result. A payment-status change
// is appended to the history log.
func (s *CalcService) recalculate(ctx context.Context, actor Actor, b *Bill) error {
	items, err := s.items.ListByBill(ctx, b.ID)
	if err != nil {
		return err
	}

	var subTotal, itemDiscount float64
	for _, item := range items {
		subTotal += item.Gross()
		itemDiscount += item.DiscountTotal()
	}
	subTotal = Round2(subTotal)

	discount := Round2(itemDiscount + b.BillDiscount(subTotal))
	taxable := subTotal - discount
	if taxable < 0 {
		taxable = 0
	}
	tax := Round2(taxable * s.taxRate / 100)
	total := Round2(taxable + tax)

	paid, err := s.payments.SumCompletedByBill(ctx, b.ID)
	if err != nil {
		return err
	}
	refunded, err := s.payments.SumCompletedRefundsByBill(ctx, b.ID)
	if err != nil {
		return err
	}
	amountPaid := Round2(paid - refunded)

	balance := Round2(total - amountPaid)
	if balance < 0 {
		balance = 0
	}

	prevStatus := b.PaymentStatus
	b.SubTotal = subTotal
	b.Discount = discount
	b.Tax = tax
	b.TotalAmount = total
	b.AmountPaid = amountPaid
	b.BalanceDue = balance
	b.PaymentStatus = b.DerivePaymentStatus()

	if err := s.bills.Update(ctx, b); err != nil {
		return err
	}

	if prevStatus != b.PaymentStatus {
		h := &BillStatusHistory{
			BillID:     b.ID,
			FromStatus: prevStatus,
			ToStatus:   b.PaymentStatus,
			ChangedBy:  actor.ID,
		}
		if err := s.history.Append(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDiscount sets the bill-level discount and recalculates. Fixed and
// percentage discounts are mutually exclusive; applying one clears the other.
func (s *CalcService) ApplyDiscount(ctx context.Context, actor Actor, billID uuid.UUID, amount float64, kind DiscountKind) (*Bill, error) {
	if amount < 0 {
		return nil, apperr.Validation("discount amount must not be negative, got %v", amount)
	}
	switch kind {
	case DiscountFixed:
	case DiscountPercentage:
		if amount > 100 {
			return nil, apperr.Validation("discount percentage must not exceed 100, got %v", amount)
		}
	default:
		return nil, apperr.Validation("discount type must be fixed or percentage, got %q", kind)
	}

	var bill *Bill
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.bills.GetByIDForUpdate(ctx, billID)
		if err != nil {
			return apperr.NotFound("bill", billID)
		}
		if b.Voided {
			return apperr.BusinessRule("cannot discount a voided bill")
		}

		items, err := s.items.ListByBill(ctx, b.ID)
		if err != nil {
			return err
		}
		var subTotal, itemDiscount float64
		for _, item := range items {
			subTotal += item.Gross()
			itemDiscount += item.DiscountTotal()
		}
		subTotal = Round2(subTotal)

		next := *b
		switch kind {
		case DiscountFixed:
			next.DiscountAmount = amount
			next.DiscountPercent = 0
		case DiscountPercentage:
			next.DiscountAmount = 0
			next.DiscountPercent = amount
		}
		if Round2(itemDiscount+next.BillDiscount(subTotal)) > subTotal {
			return apperr.BusinessRule("discount %v exceeds bill subtotal %v", amount, subTotal)
		}

		b.DiscountAmount = next.DiscountAmount
		b.DiscountPercent = next.DiscountPercent
		if err := s.recalculate(ctx, actor, b); err != nil {
			return err
		}
		bill = b
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "apply discount failed")
	}
	return bill, nil
}

// wrap preserves typed application errors and converts everything else into
// an internal error with a prefixed message, logging the original cause.
func (s *CalcService) wrap(err error, msg string) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e
	}
	s.log.Error().Err(err).Msg(msg)
	return apperr.Internal(err, msg)
}
