package insurance

import (
	"context"

	"github.com/google/uuid"

	"github.com/hms/hms/pkg/pagination"
)

type PolicyRepository interface {
	Create(ctx context.Context, p *PatientInsurance) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientInsurance, error)
	// GetByIDForUpdate locks the policy row so concurrent claim decisions
	// cannot both consume the same deductible or annual benefit.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*PatientInsurance, error)
	Update(ctx context.Context, p *PatientInsurance) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, pg pagination.Params) ([]*PatientInsurance, int, error)
}

type ClaimRepository interface {
	Create(ctx context.Context, c *InsuranceClaim) error
	GetByID(ctx context.Context, id uuid.UUID) (*InsuranceClaim, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*InsuranceClaim, error)
	Update(ctx context.Context, c *InsuranceClaim) error
	ListByBill(ctx context.Context, billID uuid.UUID) ([]*InsuranceClaim, error)
	ListByPolicy(ctx context.Context, insuranceID uuid.UUID, pg pagination.Params) ([]*InsuranceClaim, int, error)
	// HasOpenForBill reports whether the bill already carries a claim that is
	// neither closed nor rejected.
	HasOpenForBill(ctx context.Context, billID uuid.UUID) (bool, error)
}
