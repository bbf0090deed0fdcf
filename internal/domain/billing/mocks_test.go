package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/pkg/pagination"
)

// -- Mock Repositories --

type mockBillRepo struct {
	bills map[uuid.UUID]*Bill
}

func newMockBillRepo() *mockBillRepo {
	return &mockBillRepo{bills: make(map[uuid.UUID]*Bill)}
}

func (m *mockBillRepo) Create(_ context.Context, b *Bill) error {
	b.ID = uuid.New()
	if b.BillNumber == "" {
		b.BillNumber = "B-" + b.ID.String()[:8]
	}
	b.CreatedAt = time.Now()
	b.UpdatedAt = time.Now()
	m.bills[b.ID] = b
	return nil
}

func (m *mockBillRepo) GetByID(_ context.Context, id uuid.UUID) (*Bill, error) {
	b, ok := m.bills[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *b
	return &cp, nil
}

func (m *mockBillRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return m.GetByID(ctx, id)
}

func (m *mockBillRepo) Update(_ context.Context, b *Bill) error {
	if _, ok := m.bills[b.ID]; !ok {
		return fmt.Errorf("not found")
	}
	cp := *b
	m.bills[b.ID] = &cp
	return nil
}

func (m *mockBillRepo) ListByPatient(_ context.Context, patientID uuid.UUID, _ pagination.Params) ([]*Bill, int, error) {
	var result []*Bill
	for _, b := range m.bills {
		if b.PatientID == patientID {
			result = append(result, b)
		}
	}
	return result, len(result), nil
}

type mockItemRepo struct {
	items map[uuid.UUID]*BillItem
}

func newMockItemRepo() *mockItemRepo {
	return &mockItemRepo{items: make(map[uuid.UUID]*BillItem)}
}

func (m *mockItemRepo) Add(_ context.Context, item *BillItem) error {
	item.ID = uuid.New()
	item.CreatedAt = time.Now()
	item.UpdatedAt = time.Now()
	m.items[item.ID] = item
	return nil
}

func (m *mockItemRepo) GetByID(_ context.Context, id uuid.UUID) (*BillItem, error) {
	i, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *i
	return &cp, nil
}

func (m *mockItemRepo) Update(_ context.Context, item *BillItem) error {
	if _, ok := m.items[item.ID]; !ok {
		return fmt.Errorf("not found")
	}
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *mockItemRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.items, id)
	return nil
}

func (m *mockItemRepo) ListByBill(_ context.Context, billID uuid.UUID) ([]*BillItem, error) {
	var result []*BillItem
	for _, i := range m.items {
		if i.BillID == billID {
			result = append(result, i)
		}
	}
	sort.Slice(result, func(a, b int) bool { return result[a].CreatedAt.Before(result[b].CreatedAt) })
	return result, nil
}

func (m *mockItemRepo) ExistsBySource(_ context.Context, billID uuid.UUID, source ItemSource, sourceID uuid.UUID) (bool, error) {
	for _, i := range m.items {
		if i.BillID == billID && i.SourceType == source && i.SourceID != nil && *i.SourceID == sourceID {
			return true, nil
		}
	}
	return false, nil
}

type mockPaymentRepo struct {
	payments map[uuid.UUID]*Payment
	refunds  map[uuid.UUID]*BillRefund
}

func newMockPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{
		payments: make(map[uuid.UUID]*Payment),
		refunds:  make(map[uuid.UUID]*BillRefund),
	}
}

func (m *mockPaymentRepo) Create(_ context.Context, p *Payment) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	m.payments[p.ID] = p
	return nil
}

func (m *mockPaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *p
	return &cp, nil
}

func (m *mockPaymentRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return m.GetByID(ctx, id)
}

func (m *mockPaymentRepo) Update(_ context.Context, p *Payment) error {
	if _, ok := m.payments[p.ID]; !ok {
		return fmt.Errorf("not found")
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *mockPaymentRepo) ListByBill(_ context.Context, billID uuid.UUID) ([]*Payment, error) {
	var result []*Payment
	for _, p := range m.payments {
		if p.BillID == billID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *mockPaymentRepo) SumCompletedByBill(_ context.Context, billID uuid.UUID) (float64, error) {
	var sum float64
	for _, p := range m.payments {
		if p.BillID == billID && p.Status == PaymentCompleted {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (m *mockPaymentRepo) AddRefund(_ context.Context, r *BillRefund) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	m.refunds[r.ID] = r
	return nil
}

func (m *mockPaymentRepo) ListRefundsByPayment(_ context.Context, paymentID uuid.UUID) ([]*BillRefund, error) {
	var result []*BillRefund
	for _, r := range m.refunds {
		if r.PaymentID == paymentID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *mockPaymentRepo) SumCompletedRefundsByPayment(_ context.Context, paymentID uuid.UUID) (float64, error) {
	var sum float64
	for _, r := range m.refunds {
		if r.PaymentID == paymentID && r.Status == PaymentCompleted {
			sum += r.Amount
		}
	}
	return sum, nil
}

func (m *mockPaymentRepo) SumCompletedRefundsByBill(_ context.Context, billID uuid.UUID) (float64, error) {
	var sum float64
	for _, r := range m.refunds {
		if r.BillID == billID && r.Status == PaymentCompleted {
			sum += r.Amount
		}
	}
	return sum, nil
}

type mockHistoryRepo struct {
	entries []*BillStatusHistory
}

func newMockHistoryRepo() *mockHistoryRepo { return &mockHistoryRepo{} }

func (m *mockHistoryRepo) Append(_ context.Context, h *BillStatusHistory) error {
	h.ID = uuid.New()
	h.CreatedAt = time.Now()
	m.entries = append(m.entries, h)
	return nil
}

func (m *mockHistoryRepo) ListByBill(_ context.Context, billID uuid.UUID) ([]*BillStatusHistory, error) {
	var result []*BillStatusHistory
	for _, h := range m.entries {
		if h.BillID == billID {
			result = append(result, h)
		}
	}
	return result, nil
}

// noopTxManager runs the function directly; the mock repos are not
// transactional.
type noopTxManager struct{}

func (noopTxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// -- Harness --

type harness struct {
	bills    *mockBillRepo
	items    *mockItemRepo
	payments *mockPaymentRepo
	history  *mockHistoryRepo

	calc       *CalcService
	paymentSvc *PaymentService
	itemSvc    *ItemService
}

func newHarness(taxRatePercent float64) *harness {
	h := &harness{
		bills:    newMockBillRepo(),
		items:    newMockItemRepo(),
		payments: newMockPaymentRepo(),
		history:  newMockHistoryRepo(),
	}
	log := zerolog.Nop()
	tx := noopTxManager{}
	h.calc = NewCalcService(h.bills, h.items, h.payments, h.history, tx, taxRatePercent, log)
	h.paymentSvc = NewPaymentService(h.bills, h.payments, h.calc, tx, log)
	h.itemSvc = NewItemService(h.bills, h.items, h.calc, tx, log)
	return h
}

var testActor = Actor{ID: uuid.New(), Name: "cashier"}

func (h *harness) newBill(patientID uuid.UUID) *Bill {
	b := &Bill{PatientID: patientID, Currency: "USD", PaymentStatus: BillPending}
	if err := h.bills.Create(context.Background(), b); err != nil {
		panic(err)
	}
	return b
}
