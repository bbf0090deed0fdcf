package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/validate"
)

// ItemService composes line items onto bills from the upstream billable
// units. Each source record may be billed at most once per bill.
type ItemService struct {
	bills BillRepository
	items ItemRepository
	calc  *CalcService
	tx    db.TxManager
	log   zerolog.Logger
}

func NewItemService(bills BillRepository, items ItemRepository, calc *CalcService, tx db.TxManager, log zerolog.Logger) *ItemService {
	return &ItemService{
		bills: bills,
		items: items,
		calc:  calc,
		tx:    tx,
		log:   log,
	}
}

// AddItemInput is the typed command for adding or updating a line item.
type AddItemInput struct {
	Description     string  `validate:"required"`
	Quantity        float64 `validate:"required,gt=0"`
	UnitPrice       float64 `validate:"required,gt=0"`
	DiscountAmount  float64 `validate:"gte=0"`
	DiscountPercent float64 `validate:"gte=0,lte=100"`
}

// AddAppointmentCharge bills a consultation fee for an appointment.
func (s *ItemService) AddAppointmentCharge(ctx context.Context, actor Actor, billID, appointmentID uuid.UUID, in AddItemInput) (*BillItem, error) {
	return s.addItem(ctx, actor, billID, SourceAppointment, &appointmentID, in)
}

// AddLabTestCharge bills an ordered lab test.
func (s *ItemService) AddLabTestCharge(ctx context.Context, actor Actor, billID, labTestID uuid.UUID, in AddItemInput) (*BillItem, error) {
	return s.addItem(ctx, actor, billID, SourceLabTest, &labTestID, in)
}

// AddPharmacySaleCharge bills a dispensed pharmacy sale.
func (s *ItemService) AddPharmacySaleCharge(ctx context.Context, actor Actor, billID, saleID uuid.UUID, in AddItemInput) (*BillItem, error) {
	return s.addItem(ctx, actor, billID, SourcePharmacySale, &saleID, in)
}

// AddDepartmentServiceCharge bills a departmental service from the service
// catalog.
func (s *ItemService) AddDepartmentServiceCharge(ctx context.Context, actor Actor, billID, serviceID uuid.UUID, in AddItemInput) (*BillItem, error) {
	return s.addItem(ctx, actor, billID, SourceDepartmentService, &serviceID, in)
}

// AddManualCharge bills an ad-hoc charge with no upstream source record.
func (s *ItemService) AddManualCharge(ctx context.Context, actor Actor, billID uuid.UUID, in AddItemInput) (*BillItem, error) {
	return s.addItem(ctx, actor, billID, SourceManual, nil, in)
}

func (s *ItemService) addItem(ctx context.Context, actor Actor, billID uuid.UUID, source ItemSource, sourceID *uuid.UUID, in AddItemInput) (*BillItem, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	var item *BillItem
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		bill, err := s.bills.GetByIDForUpdate(ctx, billID)
		if err != nil {
			return apperr.NotFound("bill", billID)
		}
		if bill.Voided {
			return apperr.BusinessRule("cannot add items to voided bill %s", bill.BillNumber)
		}
		if sourceID != nil {
			exists, err := s.items.ExistsBySource(ctx, bill.ID, source, *sourceID)
			if err != nil {
				return err
			}
			if exists {
				return apperr.BusinessRule("%s %s is already billed on bill %s", source, sourceID, bill.BillNumber)
			}
		}

		it := &BillItem{
			BillID:          bill.ID,
			SourceType:      source,
			SourceID:        sourceID,
			Description:     in.Description,
			Quantity:        in.Quantity,
			UnitPrice:       in.UnitPrice,
			DiscountAmount:  in.DiscountAmount,
			DiscountPercent: in.DiscountPercent,
		}
		it.ComputeTotal()
		if err := s.items.Add(ctx, it); err != nil {
			return err
		}
		if err := s.calc.recalculate(ctx, actor, bill); err != nil {
			return err
		}
		item = it
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "add bill item failed")
	}
	s.log.Info().
		Str("bill_id", billID.String()).
		Str("item_id", item.ID.String()).
		Str("source", string(source)).
		Float64("total", item.TotalPrice).
		Msg("bill item added")
	return item, nil
}

// UpdateItem replaces the mutable fields of a line item and recalculates the
// bill. Items on a fully paid bill cannot be changed.
func (s *ItemService) UpdateItem(ctx context.Context, actor Actor, itemID uuid.UUID, in AddItemInput) (*BillItem, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	var item *BillItem
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		it, err := s.items.GetByID(ctx, itemID)
		if err != nil {
			return apperr.NotFound("bill item", itemID)
		}
		bill, err := s.bills.GetByIDForUpdate(ctx, it.BillID)
		if err != nil {
			return apperr.NotFound("bill", it.BillID)
		}
		if bill.PaymentStatus == BillPaid {
			return apperr.BusinessRule("cannot modify items on fully paid bill %s", bill.BillNumber)
		}

		it.Description = in.Description
		it.Quantity = in.Quantity
		it.UnitPrice = in.UnitPrice
		it.DiscountAmount = in.DiscountAmount
		it.DiscountPercent = in.DiscountPercent
		it.ComputeTotal()
		if err := s.items.Update(ctx, it); err != nil {
			return err
		}
		if err := s.calc.recalculate(ctx, actor, bill); err != nil {
			return err
		}
		item = it
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "update bill item failed")
	}
	return item, nil
}

// RemoveItem deletes a line item and recalculates the bill. Items on a fully
// paid bill cannot be removed.
func (s *ItemService) RemoveItem(ctx context.Context, actor Actor, itemID uuid.UUID) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		it, err := s.items.GetByID(ctx, itemID)
		if err != nil {
			return apperr.NotFound("bill item", itemID)
		}
		bill, err := s.bills.GetByIDForUpdate(ctx, it.BillID)
		if err != nil {
			return apperr.NotFound("bill", it.BillID)
		}
		if bill.PaymentStatus == BillPaid {
			return apperr.BusinessRule("cannot remove items from fully paid bill %s", bill.BillNumber)
		}

		if err := s.items.Delete(ctx, it.ID); err != nil {
			return err
		}
		return s.calc.recalculate(ctx, actor, bill)
	})
	if err != nil {
		return s.wrap(err, "remove bill item failed")
	}
	return nil
}

func (s *ItemService) wrap(err error, msg string) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e
	}
	s.log.Error().Err(err).Msg(msg)
	return apperr.Internal(err, msg)
}
