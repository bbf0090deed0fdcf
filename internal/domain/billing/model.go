package billing

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Actor identifies the user performing a service operation. It is threaded
// explicitly into every mutating call and recorded in the status history.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// BillPaymentStatus is the derived payment state of a bill. It is a pure
// function of amount_paid vs total_amount and is never set directly.
type BillPaymentStatus string

const (
	BillPending BillPaymentStatus = "pending"
	BillPartial BillPaymentStatus = "partial"
	BillPaid    BillPaymentStatus = "paid"
)

// PaymentStatus is the state of a single payment record.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentVoided    PaymentStatus = "voided"
)

// PaymentMethod enumerates how funds were received.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodDebitCard    PaymentMethod = "debit_card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCheque       PaymentMethod = "cheque"
	MethodInsurance    PaymentMethod = "insurance"
	MethodMobileMoney  PaymentMethod = "mobile_money"
	MethodOnline       PaymentMethod = "online"
)

var validPaymentMethods = map[PaymentMethod]bool{
	MethodCash: true, MethodCreditCard: true, MethodDebitCard: true,
	MethodBankTransfer: true, MethodCheque: true, MethodInsurance: true,
	MethodMobileMoney: true, MethodOnline: true,
}

// ItemSource identifies the billable unit a line item was composed from.
type ItemSource string

const (
	SourceAppointment       ItemSource = "appointment"
	SourceLabTest           ItemSource = "lab_test"
	SourcePharmacySale      ItemSource = "pharmacy_sale"
	SourceDepartmentService ItemSource = "department_service"
	SourceManual            ItemSource = "manual"
)

// DiscountKind selects how a bill-level discount is interpreted.
type DiscountKind string

const (
	DiscountFixed      DiscountKind = "fixed"
	DiscountPercentage DiscountKind = "percentage"
)

// Bill maps to the bills table: the financial record aggregating charges for
// one patient encounter. Monetary fields are recomputed only by
// CalcService.CalculateTotals; nothing else writes them.
type Bill struct {
	ID              uuid.UUID         `db:"id" json:"id"`
	BillNumber      string            `db:"bill_number" json:"bill_number"`
	PatientID       uuid.UUID         `db:"patient_id" json:"patient_id"`
	EncounterID     *uuid.UUID        `db:"encounter_id" json:"encounter_id,omitempty"`
	SubTotal        float64           `db:"sub_total" json:"sub_total"`
	Discount        float64           `db:"discount" json:"discount"`
	DiscountAmount  float64           `db:"discount_amount" json:"discount_amount"`
	DiscountPercent float64           `db:"discount_percent" json:"discount_percent"`
	Tax             float64           `db:"tax" json:"tax"`
	TotalAmount     float64           `db:"total_amount" json:"total_amount"`
	AmountPaid      float64           `db:"amount_paid" json:"amount_paid"`
	BalanceDue      float64           `db:"balance_due" json:"balance_due"`
	PaymentStatus   BillPaymentStatus `db:"payment_status" json:"payment_status"`
	Voided          bool              `db:"voided" json:"voided"`
	Currency        string            `db:"currency" json:"currency"`
	Notes           *string           `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// BillDiscount resolves the bill-level discount against a gross subtotal.
// A percentage discount scales with the subtotal; a fixed one does not.
func (b *Bill) BillDiscount(subTotal float64) float64 {
	return Round2(b.DiscountAmount + subTotal*b.DiscountPercent/100)
}

// DerivePaymentStatus returns the payment status implied by the monetary
// fields: paid when nothing is outstanding, partial when some funds arrived,
// pending otherwise.
func (b *Bill) DerivePaymentStatus() BillPaymentStatus {
	if b.BalanceDue <= 0 {
		return BillPaid
	}
	if b.AmountPaid > 0 {
		return BillPartial
	}
	return BillPending
}

// BillItem maps to the bill_items table: one line per billable unit.
type BillItem struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	BillID          uuid.UUID  `db:"bill_id" json:"bill_id"`
	SourceType      ItemSource `db:"source_type" json:"source_type"`
	SourceID        *uuid.UUID `db:"source_id" json:"source_id,omitempty"`
	Description     string     `db:"description" json:"description"`
	Quantity        float64    `db:"quantity" json:"quantity"`
	UnitPrice       float64    `db:"unit_price" json:"unit_price"`
	DiscountAmount  float64    `db:"discount_amount" json:"discount_amount"`
	DiscountPercent float64    `db:"discount_percent" json:"discount_percent"`
	TotalPrice      float64    `db:"total_price" json:"total_price"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Gross returns quantity × unit price before any discount.
func (i *BillItem) Gross() float64 {
	return Round2(i.Quantity * i.UnitPrice)
}

// DiscountTotal returns the fixed plus percentage discount for this line.
func (i *BillItem) DiscountTotal() float64 {
	return Round2(i.DiscountAmount + i.Quantity*i.UnitPrice*i.DiscountPercent/100)
}

// ComputeTotal recalculates TotalPrice from the line's own fields, floored
// at zero.
func (i *BillItem) ComputeTotal() float64 {
	total := i.Gross() - i.DiscountTotal()
	if total < 0 {
		total = 0
	}
	i.TotalPrice = Round2(total)
	return i.TotalPrice
}

// Payment maps to the payments table: one funds-received event against a bill.
type Payment struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	BillID         uuid.UUID     `db:"bill_id" json:"bill_id"`
	Amount         float64       `db:"amount" json:"amount"`
	Method         PaymentMethod `db:"payment_method" json:"payment_method"`
	Status         PaymentStatus `db:"status" json:"status"`
	TenderedAmount *float64      `db:"tendered_amount" json:"tendered_amount,omitempty"`
	ChangeDue      *float64      `db:"change_due" json:"change_due,omitempty"`
	Reference      *string       `db:"reference" json:"reference,omitempty"`
	Notes          *string       `db:"notes" json:"notes,omitempty"`
	VoidReason     *string       `db:"void_reason" json:"void_reason,omitempty"`
	ReceivedBy     uuid.UUID     `db:"received_by" json:"received_by"`
	ReceivedAt     time.Time     `db:"received_at" json:"received_at"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// BillRefund maps to the bill_refunds table: a partial or full reversal of a
// payment.
type BillRefund struct {
	ID         uuid.UUID     `db:"id" json:"id"`
	PaymentID  uuid.UUID     `db:"payment_id" json:"payment_id"`
	BillID     uuid.UUID     `db:"bill_id" json:"bill_id"`
	Amount     float64       `db:"amount" json:"amount"`
	Reason     string        `db:"reason" json:"reason"`
	Status     PaymentStatus `db:"status" json:"status"`
	RefundedBy uuid.UUID     `db:"refunded_by" json:"refunded_by"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// BillStatusHistory maps to the bill_status_history table: an append-only log
// of payment-status transitions.
type BillStatusHistory struct {
	ID         uuid.UUID         `db:"id" json:"id"`
	BillID     uuid.UUID         `db:"bill_id" json:"bill_id"`
	FromStatus BillPaymentStatus `db:"from_status" json:"from_status"`
	ToStatus   BillPaymentStatus `db:"to_status" json:"to_status"`
	Note       *string           `db:"note" json:"note,omitempty"`
	ChangedBy  uuid.UUID         `db:"changed_by" json:"changed_by"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
}

// Round2 rounds a monetary value to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
