package billing

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
)

// seedBill creates a bill with a single line item and calculated totals.
func seedBill(t *testing.T, h *harness, amount float64) *Bill {
	t.Helper()
	ctx := context.Background()
	bill := h.newBill(uuid.New())
	h.items.Add(ctx, &BillItem{BillID: bill.ID, Description: "Consultation", Quantity: 1, UnitPrice: amount, TotalPrice: amount})
	b, err := h.calc.CalculateTotals(ctx, bill.ID)
	if err != nil {
		t.Fatalf("seed CalculateTotals() error = %v", err)
	}
	return b
}

func TestProcessPayment(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()
	bill := seedBill(t, h, 100)

	res, err := h.paymentSvc.ProcessPayment(ctx, testActor, bill.ID, ProcessPaymentInput{Amount: 40, Method: MethodCreditCard})
	if err != nil {
		t.Fatalf("ProcessPayment() error = %v", err)
	}
	if res.Payment.Status != PaymentCompleted {
		t.Errorf("payment status = %q, want completed", res.Payment.Status)
	}
	if res.Payment.ReceivedBy != testActor.ID {
		t.Errorf("ReceivedBy = %v, want actor id", res.Payment.ReceivedBy)
	}
	if res.Bill.AmountPaid != 40 || res.Bill.BalanceDue != 60 {
		t.Errorf("bill after payment: paid %v balance %v, want 40/60", res.Bill.AmountPaid, res.Bill.BalanceDue)
	}
	if res.Bill.PaymentStatus != BillPartial {
		t.Errorf("bill status = %q, want partial", res.Bill.PaymentStatus)
	}

	res, err = h.paymentSvc.ProcessPayment(ctx, testActor, bill.ID, ProcessPaymentInput{Amount: 60, Method: MethodCash})
	if err != nil {
		t.Fatalf("second ProcessPayment() error = %v", err)
	}
	if res.Bill.PaymentStatus != BillPaid {
		t.Errorf("bill status = %q, want paid", res.Bill.PaymentStatus)
	}
	if res.Bill.BalanceDue != 0 {
		t.Errorf("BalanceDue = %v, want 0", res.Bill.BalanceDue)
	}
}

func TestProcessPaymentRecordsStatusHistory(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()
	bill := seedBill(t, h, 100)

	if _, err := h.paymentSvc.ProcessPayment(ctx, testActor, bill.ID, ProcessPaymentInput{Amount: 100, Method: MethodCash}); err != nil {
		t.Fatal(err)
	}
	entries, err := h.calc.History(ctx, bill.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	if entries[0].FromStatus != BillPending || entries[0].ToStatus != BillPaid {
		t.Errorf("transition %s -> %s, want pending -> paid", entries[0].FromStatus, entries[0].ToStatus)
	}
	if entries[0].ChangedBy != testActor.ID {
		t.Errorf("ChangedBy = %v, want actor id", entries[0].ChangedBy)
	}
}

func TestProcessPaymentRejectsOverpayment(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()
	bill := seedBill(t, h, 100)

	if _, err := h.paymentSvc.ProcessPayment(ctx, testActor, bill.ID, ProcessPaymentInput{Amount: 80, Method: MethodCash}); err != nil {
		t.Fatal(err)
	}
	_, err := h.paymentSvc.ProcessPayment(ctx, testActor, bill.ID, ProcessPaymentInput{Amount: 30, Method: MethodCash})
	if !apperr.IsBusinessRule(err) {
		t.Errorf("overpayment: got %v, want business-rule error", err)
	}

	// Totals unchanged by the rejected attempt.
	b, err := h.calc.GetBill(ctx, bill.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.AmountPaid != 80 || b.BalanceDue != 20 {
		t.Errorf("bill after rejection: paid %v balance %v, want 80/20", b.AmountPaid, b.BalanceDue)
	}
}

func TestProcessPaymentValidation(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()
	bill := seedBill(t, h, 100)

	cases := []struct {
		name string
		in   ProcessPaymentInput
	}{
		{"zero amount", ProcessPaymentInput{Amount: 0, Method: MethodCash}},
		{"negative amount", ProcessPaymentInput{Amount: -10, Method: MethodCash}},
		{"missing method", ProcessPaymentInput{Amount: 10}},
		{"unknown method", ProcessPaymentInput{Amount: 10, Method: PaymentMethod("barter")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.paymentSvc.ProcessPayment(ctx, testActor, bill.ID, tc.in)
			if !apperr.IsValidation(err) {
				t.Errorf("got %v, want validation error", err)
			}
		})
	}
}

func TestProcessPaymentCashChange(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()
	bill := seedBill(t, h, 100)

	tendered := 150.0
	res, err := h.paymentSvc.ProcessPayment(ctx, testActor, bill.ID, ProcessPaymentInput{
		Amount:         100,
		Method:         MethodCash,
		TenderedAmount: &tendered,
	})
	if err != nil {
		t.Fatalf("ProcessPayment() error = %v", err)
	}
	if res.ChangeDue != 50 {
		t.Errorf("ChangeDue = %v, want 50", res.ChangeDue)
	}
	if res.Payment.ChangeDue == nil || *res.Payment.ChangeDue != 50 {
		t.Errorf("payment ChangeDue = %v, want 50", res.Payment.ChangeDue)
	}

	short := 20.0
	_, err = h.paymentSvc.ProcessPayment(ctx, testActor, bill.ID, ProcessPaymentInput{
		Amount:         30,
		Method:         MethodCash,
		TenderedAmount: &short,
	})
	if !apperr.IsValidation(err) {
		t.Errorf("short tender: got %v, want validation error", err)
	}
}

func TestProcessPaymentOnVoidedBill(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()
	bill := seedBill(t, h, 100)
	bill.Voided = true
	h.bills.Update(ctx, bill)

	_, err := h.paymentSvc.ProcessPayment(ctx, testActor, bill.ID, ProcessPaymentInput{Amount: 10, Method: MethodCash})
	if !apperr.IsBusinessRule(err) {
		t.Errorf("got %v, want business-rule error", err)
	}
}

func TestProcessRefund(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()
	bill := seedBill(t, h, 100)
	res, err := h.paymentSvc.ProcessPayment(ctx, testActor, bill.ID, ProcessPaymentInput{Amount: 100, Method: MethodCash})
	if err != nil {
		t.Fatal(err)
	}
	paymentID := res.Payment.ID

	refund, err := h.paymentSvc.ProcessRefund(ctx, testActor, paymentID, 30, "duplicate charge")
	if err != nil {
		t.Fatalf("ProcessRefund() error = %v", err)
	}
	if refund.Amount != 30 || refund.Status != PaymentCompleted {
		t.Errorf("refund = %+v, want completed 30", refund)
	}

	b, err := h.calc.GetBill(ctx, bill.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.AmountPaid != 70 || b.BalanceDue != 30 {
		t.Errorf("bill after refund: paid %v balance %v, want 70/30", b.AmountPaid, b.BalanceDue)
	}
	if b.PaymentStatus != BillPartial {
		t.Errorf("bill status = %q, want partial after refund", b.PaymentStatus)
	}

	// Refunding more than the remainder fails.
	_, err = h.paymentSvc.ProcessRefund(ctx, testActor, paymentID, 80, "too much")
	if !apperr.IsBusinessRule(err) {
		t.Errorf("over-refund: got %v, want business-rule error", err)
	}

	// Refunding the exact remainder flips the payment to refunded.
	if _, err := h.paymentSvc.ProcessRefund(ctx, testActor, paymentID, 70, "cancelled encounter"); err != nil {
		t.Fatal(err)
	}
	p, err := h.payments.GetByID(ctx, paymentID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != PaymentRefunded {
		t.Errorf("payment status = %q, want refunded", p.Status)
	}
	_, err = h.paymentSvc.ProcessRefund(ctx, testActor, paymentID, 1, "again")
	if !apperr.IsBusinessRule(err) {
		t.Errorf("refund of refunded payment: got %v, want business-rule error", err)
	}
}

func TestProcessRefundValidation(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()

	if _, err := h.paymentSvc.ProcessRefund(ctx, testActor, uuid.New(), 0, "reason"); !apperr.IsValidation(err) {
		t.Error("zero amount should be rejected")
	}
	if _, err := h.paymentSvc.ProcessRefund(ctx, testActor, uuid.New(), 10, "  "); !apperr.IsValidation(err) {
		t.Error("blank reason should be rejected")
	}
	if _, err := h.paymentSvc.ProcessRefund(ctx, testActor, uuid.New(), 10, "reason"); !apperr.IsNotFound(err) {
		t.Error("unknown payment should be not-found")
	}
}

func TestVoidPayment(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()
	bill := seedBill(t, h, 100)
	res, err := h.paymentSvc.ProcessPayment(ctx, testActor, bill.ID, ProcessPaymentInput{Amount: 100, Method: MethodCash})
	if err != nil {
		t.Fatal(err)
	}

	p, err := h.paymentSvc.VoidPayment(ctx, testActor, res.Payment.ID, "entered against wrong bill")
	if err != nil {
		t.Fatalf("VoidPayment() error = %v", err)
	}
	if p.Status != PaymentVoided {
		t.Errorf("status = %q, want voided", p.Status)
	}
	if p.VoidReason == nil || *p.VoidReason == "" {
		t.Error("void reason not recorded")
	}

	b, err := h.calc.GetBill(ctx, bill.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.AmountPaid != 0 || b.PaymentStatus != BillPending {
		t.Errorf("bill after void: paid %v status %q, want 0/pending", b.AmountPaid, b.PaymentStatus)
	}

	// Voiding twice is rejected.
	_, err = h.paymentSvc.VoidPayment(ctx, testActor, res.Payment.ID, "again")
	if !apperr.IsBusinessRule(err) {
		t.Errorf("double void: got %v, want business-rule error", err)
	}
}

func TestVoidPaymentWithCompletedRefunds(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()
	bill := seedBill(t, h, 100)
	res, err := h.paymentSvc.ProcessPayment(ctx, testActor, bill.ID, ProcessPaymentInput{Amount: 100, Method: MethodCash})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.paymentSvc.ProcessRefund(ctx, testActor, res.Payment.ID, 30, "partial reversal"); err != nil {
		t.Fatal(err)
	}

	// Voiding now would subtract the payment and keep subtracting the
	// refund, leaving the bill owing more than its total.
	_, err = h.paymentSvc.VoidPayment(ctx, testActor, res.Payment.ID, "entered against wrong bill")
	if !apperr.IsBusinessRule(err) {
		t.Fatalf("void after refund: got %v, want business-rule error", err)
	}

	b, err := h.calc.GetBill(ctx, bill.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.AmountPaid != 70 || b.BalanceDue != 30 {
		t.Errorf("bill after rejected void: paid %v balance %v, want 70/30", b.AmountPaid, b.BalanceDue)
	}
	if b.AmountPaid < 0 || b.BalanceDue > b.TotalAmount {
		t.Errorf("bill accounting out of range: %+v", b)
	}
}

func TestSubCentAmountsRejected(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()
	bill := seedBill(t, h, 100)

	// 0.004 passes a naive positivity check but rounds to zero cents.
	_, err := h.paymentSvc.ProcessPayment(ctx, testActor, bill.ID, ProcessPaymentInput{Amount: 0.004, Method: MethodCash})
	if !apperr.IsValidation(err) {
		t.Errorf("sub-cent payment: got %v, want validation error", err)
	}
	payments, err := h.paymentSvc.ListPayments(ctx, bill.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(payments) != 0 {
		t.Errorf("payments = %d, want none after rejected sub-cent amount", len(payments))
	}

	res, err := h.paymentSvc.ProcessPayment(ctx, testActor, bill.ID, ProcessPaymentInput{Amount: 50, Method: MethodCash})
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.paymentSvc.ProcessRefund(ctx, testActor, res.Payment.ID, 0.004, "rounding noise")
	if !apperr.IsValidation(err) {
		t.Errorf("sub-cent refund: got %v, want validation error", err)
	}
	refunds, err := h.paymentSvc.ListRefunds(ctx, res.Payment.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(refunds) != 0 {
		t.Errorf("refunds = %d, want none after rejected sub-cent amount", len(refunds))
	}
}
