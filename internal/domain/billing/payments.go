package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/validate"
)

// PaymentService records payments and refunds against bills. Every mutation
// locks the bill row first, so two cashiers cannot both pass the balance
// check and overpay the same bill.
type PaymentService struct {
	bills    BillRepository
	payments PaymentRepository
	calc     *CalcService
	tx       db.TxManager
	log      zerolog.Logger
}

func NewPaymentService(bills BillRepository, payments PaymentRepository, calc *CalcService, tx db.TxManager, log zerolog.Logger) *PaymentService {
	return &PaymentService{
		bills:    bills,
		payments: payments,
		calc:     calc,
		tx:       tx,
		log:      log,
	}
}

// ProcessPaymentInput is the typed command for recording a payment.
type ProcessPaymentInput struct {
	Amount         float64       `validate:"required,gt=0"`
	Method         PaymentMethod `validate:"required"`
	TenderedAmount *float64      `validate:"-"`
	Reference      *string       `validate:"-"`
	Notes          *string       `validate:"-"`
}

// PaymentResult carries the created payment, the recalculated bill and the
// cash change due, if any.
type PaymentResult struct {
	Payment   *Payment `json:"payment"`
	Bill      *Bill    `json:"bill"`
	ChangeDue float64  `json:"change_due"`
}

// ProcessPayment records a completed payment against a bill and recalculates
// its totals in the same transaction. The amount may not exceed the balance
// due. For cash payments with a tendered amount the change due is computed
// and stored on the payment.
func (s *PaymentService) ProcessPayment(ctx context.Context, actor Actor, billID uuid.UUID, in ProcessPaymentInput) (*PaymentResult, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if !validPaymentMethods[in.Method] {
		return nil, apperr.Validation("unknown payment method %q", in.Method)
	}
	amount := Round2(in.Amount)
	if amount <= 0 {
		return nil, apperr.Validation("payment amount must be at least one cent, got %v", in.Amount)
	}

	var result *PaymentResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		bill, err := s.bills.GetByIDForUpdate(ctx, billID)
		if err != nil {
			return apperr.NotFound("bill", billID)
		}
		if bill.Voided {
			return apperr.BusinessRule("cannot record a payment on voided bill %s", bill.BillNumber)
		}
		if amount > bill.BalanceDue {
			return apperr.BusinessRule("payment %.2f exceeds balance due %.2f on bill %s", amount, bill.BalanceDue, bill.BillNumber)
		}

		var changeDue float64
		p := &Payment{
			BillID:     bill.ID,
			Amount:     amount,
			Method:     in.Method,
			Status:     PaymentCompleted,
			Reference:  in.Reference,
			Notes:      in.Notes,
			ReceivedBy: actor.ID,
			ReceivedAt: time.Now().UTC(),
		}
		if in.Method == MethodCash && in.TenderedAmount != nil {
			tendered := Round2(*in.TenderedAmount)
			if tendered < amount {
				return apperr.Validation("tendered amount %.2f is less than payment amount %.2f", tendered, amount)
			}
			changeDue = Round2(tendered - amount)
			p.TenderedAmount = &tendered
			p.ChangeDue = &changeDue
		}

		if err := s.payments.Create(ctx, p); err != nil {
			return err
		}
		if err := s.calc.recalculate(ctx, actor, bill); err != nil {
			return err
		}
		result = &PaymentResult{Payment: p, Bill: bill, ChangeDue: changeDue}
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "process payment failed")
	}
	s.log.Info().
		Str("bill_id", billID.String()).
		Str("payment_id", result.Payment.ID.String()).
		Float64("amount", amount).
		Str("method", string(in.Method)).
		Msg("payment recorded")
	return result, nil
}

// ProcessRefund reverses part or all of a completed payment. The refunded
// total across all refunds may not exceed the payment amount; when it reaches
// it, the payment status flips to refunded.
func (s *PaymentService) ProcessRefund(ctx context.Context, actor Actor, paymentID uuid.UUID, amount float64, reason string) (*BillRefund, error) {
	amount = Round2(amount)
	if amount <= 0 {
		return nil, apperr.Validation("refund amount must be at least one cent")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("refund reason is required")
	}

	var refund *BillRefund
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetByIDForUpdate(ctx, paymentID)
		if err != nil {
			return apperr.NotFound("payment", paymentID)
		}
		if p.Status != PaymentCompleted {
			return apperr.BusinessRule("only completed payments are refundable, payment is %s", p.Status)
		}
		refunded, err := s.payments.SumCompletedRefundsByPayment(ctx, p.ID)
		if err != nil {
			return err
		}
		remaining := Round2(p.Amount - refunded)
		if amount > remaining {
			return apperr.BusinessRule("refund %.2f exceeds refundable remainder %.2f of payment", amount, remaining)
		}

		r := &BillRefund{
			PaymentID:  p.ID,
			BillID:     p.BillID,
			Amount:     amount,
			Reason:     reason,
			Status:     PaymentCompleted,
			RefundedBy: actor.ID,
		}
		if err := s.payments.AddRefund(ctx, r); err != nil {
			return err
		}
		if Round2(refunded+amount) >= p.Amount {
			p.Status = PaymentRefunded
			if err := s.payments.Update(ctx, p); err != nil {
				return err
			}
		}

		bill, err := s.bills.GetByIDForUpdate(ctx, p.BillID)
		if err != nil {
			return apperr.NotFound("bill", p.BillID)
		}
		if err := s.calc.recalculate(ctx, actor, bill); err != nil {
			return err
		}
		refund = r
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "process refund failed")
	}
	s.log.Info().
		Str("payment_id", paymentID.String()).
		Str("refund_id", refund.ID.String()).
		Float64("amount", amount).
		Msg("refund recorded")
	return refund, nil
}

// VoidPayment cancels a payment so it no longer counts toward the bill.
// Voiding an already-voided payment is rejected.
func (s *PaymentService) VoidPayment(ctx context.Context, actor Actor, paymentID uuid.UUID, reason string) (*Payment, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("void reason is required")
	}

	var payment *Payment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetByIDForUpdate(ctx, paymentID)
		if err != nil {
			return apperr.NotFound("payment", paymentID)
		}
		if p.Status == PaymentVoided {
			return apperr.BusinessRule("payment is already voided")
		}
		if p.Status == PaymentRefunded {
			return apperr.BusinessRule("cannot void a fully refunded payment")
		}
		refunded, err := s.payments.SumCompletedRefundsByPayment(ctx, p.ID)
		if err != nil {
			return err
		}
		if refunded > 0 {
			// The refund already reversed part of the funds; voiding the
			// payment on top would subtract both from the bill.
			return apperr.BusinessRule("cannot void a payment with %.2f of completed refunds", refunded)
		}
		p.Status = PaymentVoided
		p.VoidReason = &reason
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}

		bill, err := s.bills.GetByIDForUpdate(ctx, p.BillID)
		if err != nil {
			return apperr.NotFound("bill", p.BillID)
		}
		if err := s.calc.recalculate(ctx, actor, bill); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "void payment failed")
	}
	s.log.Info().
		Str("payment_id", paymentID.String()).
		Str("reason", reason).
		Msg("payment voided")
	return payment, nil
}

// ListPayments returns all payments recorded against a bill.
func (s *PaymentService) ListPayments(ctx context.Context, billID uuid.UUID) ([]*Payment, error) {
	ps, err := s.payments.ListByBill(ctx, billID)
	if err != nil {
		return nil, s.wrap(err, "list payments failed")
	}
	return ps, nil
}

// ListRefunds returns all refunds recorded against a payment.
func (s *PaymentService) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]*BillRefund, error) {
	rs, err := s.payments.ListRefundsByPayment(ctx, paymentID)
	if err != nil {
		return nil, s.wrap(err, "list refunds failed")
	}
	return rs, nil
}

func (s *PaymentService) wrap(err error, msg string) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e
	}
	s.log.Error().Err(err).Msg(msg)
	return apperr.Internal(err, msg)
}
