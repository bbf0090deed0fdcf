package insurance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/validate"
	"github.com/hms/hms/pkg/pagination"
)

// Service manages patient insurance policies and the claim lifecycle. An
// approved claim settles its bill by recording an insurance payment through
// the billing payment service, inside the same transaction as the decision.
type Service struct {
	policies PolicyRepository
	claims   ClaimRepository
	bills    billing.BillRepository
	payments *billing.PaymentService
	tx       db.TxManager
	log      zerolog.Logger
}

func NewService(policies PolicyRepository, claims ClaimRepository, bills billing.BillRepository, payments *billing.PaymentService, tx db.TxManager, log zerolog.Logger) *Service {
	return &Service{
		policies: policies,
		claims:   claims,
		bills:    bills,
		payments: payments,
		tx:       tx,
		log:      log,
	}
}

// CreatePolicyInput is the typed command for registering a patient policy.
type CreatePolicyInput struct {
	PatientID        uuid.UUID  `validate:"required"`
	ProviderName     string     `validate:"required"`
	PolicyNumber     string     `validate:"required"`
	MemberID         *string    `validate:"-"`
	CoPayAmount      float64    `validate:"gte=0"`
	CoPayPercent     float64    `validate:"gte=0,lte=100"`
	DeductibleAmount float64    `validate:"gte=0"`
	AnnualMaxAmount  float64    `validate:"gte=0"`
	ExpiresAt        *time.Time `validate:"-"`
}

// CreatePolicy registers an active insurance policy for a patient.
func (s *Service) CreatePolicy(ctx context.Context, in CreatePolicyInput) (*PatientInsurance, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if in.CoPayAmount > 0 && in.CoPayPercent > 0 {
		return nil, apperr.Validation("co-pay must be a fixed amount or a percentage, not both")
	}
	p := &PatientInsurance{
		PatientID:        in.PatientID,
		ProviderName:     in.ProviderName,
		PolicyNumber:     in.PolicyNumber,
		MemberID:         in.MemberID,
		CoPayAmount:      in.CoPayAmount,
		CoPayPercent:     in.CoPayPercent,
		DeductibleAmount: in.DeductibleAmount,
		AnnualMaxAmount:  in.AnnualMaxAmount,
		Status:           PolicyActive,
		ExpiresAt:        in.ExpiresAt,
	}
	if err := s.policies.Create(ctx, p); err != nil {
		return nil, s.wrap(err, "create policy failed")
	}
	return p, nil
}

// GetPolicy returns a policy by id.
func (s *Service) GetPolicy(ctx context.Context, id uuid.UUID) (*PatientInsurance, error) {
	p, err := s.policies.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("insurance policy", id)
	}
	return p, nil
}

// ListPoliciesByPatient returns a page of a patient's policies.
func (s *Service) ListPoliciesByPatient(ctx context.Context, patientID uuid.UUID, pg pagination.Params) ([]*PatientInsurance, int, error) {
	pg.Normalize()
	ps, total, err := s.policies.ListByPatient(ctx, patientID, pg)
	if err != nil {
		return nil, 0, s.wrap(err, "list policies failed")
	}
	return ps, total, nil
}

// SetPolicyStatus changes the administrative status of a policy.
func (s *Service) SetPolicyStatus(ctx context.Context, id uuid.UUID, status PolicyStatus) (*PatientInsurance, error) {
	switch status {
	case PolicyActive, PolicyInactive, PolicyCancelled:
	default:
		return nil, apperr.Validation("unknown policy status %q", status)
	}
	var policy *PatientInsurance
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.policies.GetByIDForUpdate(ctx, id)
		if err != nil {
			return apperr.NotFound("insurance policy", id)
		}
		p.Status = status
		if err := s.policies.Update(ctx, p); err != nil {
			return err
		}
		policy = p
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "set policy status failed")
	}
	return policy, nil
}

// CalculateCoverage previews the cost-sharing breakdown a claim on this bill
// would produce right now. Nothing is persisted.
func (s *Service) CalculateCoverage(ctx context.Context, billID, insuranceID uuid.UUID) (*Coverage, error) {
	bill, err := s.bills.GetByID(ctx, billID)
	if err != nil {
		return nil, apperr.NotFound("bill", billID)
	}
	pol, err := s.policies.GetByID(ctx, insuranceID)
	if err != nil {
		return nil, apperr.NotFound("insurance policy", insuranceID)
	}
	if !pol.Usable(time.Now()) {
		return nil, apperr.BusinessRule("policy %s is not active or has expired", pol.PolicyNumber)
	}
	cov := ComputeCoverage(bill.TotalAmount, pol)
	return &cov, nil
}

// CreateClaimInput is the typed command for drafting a claim. A zero
// ClaimAmount defaults to the bill's total.
type CreateClaimInput struct {
	BillID      uuid.UUID `validate:"required"`
	InsuranceID uuid.UUID `validate:"required"`
	ClaimAmount float64   `validate:"gte=0"`
}

// CreateClaim drafts a claim for a bill against a policy. A bill carries at
// most one open claim at a time.
func (s *Service) CreateClaim(ctx context.Context, actor billing.Actor, in CreateClaimInput) (*InsuranceClaim, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	var claim *InsuranceClaim
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		bill, err := s.bills.GetByID(ctx, in.BillID)
		if err != nil {
			return apperr.NotFound("bill", in.BillID)
		}
		pol, err := s.policies.GetByID(ctx, in.InsuranceID)
		if err != nil {
			return apperr.NotFound("insurance policy", in.InsuranceID)
		}
		if pol.PatientID != bill.PatientID {
			return apperr.BusinessRule("policy %s does not belong to the billed patient", pol.PolicyNumber)
		}
		open, err := s.claims.HasOpenForBill(ctx, bill.ID)
		if err != nil {
			return err
		}
		if open {
			return apperr.BusinessRule("bill %s already has an open claim", bill.BillNumber)
		}

		amount := in.ClaimAmount
		if amount == 0 {
			amount = bill.TotalAmount
		}
		if amount <= 0 {
			return apperr.BusinessRule("bill %s has nothing to claim", bill.BillNumber)
		}
		if amount > bill.TotalAmount {
			return apperr.BusinessRule("claim amount %.2f exceeds bill total %.2f", amount, bill.TotalAmount)
		}

		c := &InsuranceClaim{
			BillID:      bill.ID,
			InsuranceID: pol.ID,
			ClaimAmount: round2(amount),
			Status:      ClaimDraft,
			SubmittedBy: actor.ID,
		}
		if err := s.claims.Create(ctx, c); err != nil {
			return err
		}
		claim = c
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "create claim failed")
	}
	return claim, nil
}

// SubmitClaim moves a draft claim to submitted, freezing the cost-sharing
// breakdown computed from the policy at this moment.
func (s *Service) SubmitClaim(ctx context.Context, actor billing.Actor, claimID uuid.UUID) (*InsuranceClaim, error) {
	var claim *InsuranceClaim
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.claims.GetByIDForUpdate(ctx, claimID)
		if err != nil {
			return apperr.NotFound("claim", claimID)
		}
		if c.Status != ClaimDraft {
			return apperr.BusinessRule("claim %s was already submitted", c.ClaimNumber)
		}
		pol, err := s.policies.GetByID(ctx, c.InsuranceID)
		if err != nil {
			return apperr.NotFound("insurance policy", c.InsuranceID)
		}
		now := time.Now().UTC()
		if !pol.Usable(now) {
			return apperr.BusinessRule("policy %s is not active or has expired", pol.PolicyNumber)
		}

		cov := ComputeCoverage(c.ClaimAmount, pol)
		c.DeductibleApplied = cov.DeductibleApplied
		c.CoPayApplied = cov.CoPayApplied
		c.CoverageAmount = cov.CoverageAmount
		c.PatientResponsibility = cov.PatientResponsibility
		c.Status = ClaimSubmitted
		c.SubmittedBy = actor.ID
		c.SubmittedAt = &now
		if err := s.claims.Update(ctx, c); err != nil {
			return err
		}
		claim = c
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "submit claim failed")
	}
	s.log.Info().
		Str("claim_id", claimID.String()).
		Float64("coverage", claim.CoverageAmount).
		Msg("claim submitted")
	return claim, nil
}

// MarkInReview records that the insurer has taken the claim under review.
func (s *Service) MarkInReview(ctx context.Context, claimID uuid.UUID) (*InsuranceClaim, error) {
	return s.transition(ctx, claimID, ClaimPending, "mark claim in review failed")
}

// ClaimResponseInput is the typed command carrying the insurer's decision.
type ClaimResponseInput struct {
	Status          ClaimStatus `validate:"required"`
	ApprovedAmount  *float64    `validate:"-"`
	RejectionReason *string     `validate:"-"`
	RejectionCodes  []string    `validate:"-"`
}

// ProcessResponse applies the insurer's decision to a claim. Approval
// consumes the policy's deductible and annual benefit and settles the bill
// with an insurance payment capped at the outstanding balance, all in one
// transaction.
func (s *Service) ProcessResponse(ctx context.Context, actor billing.Actor, claimID uuid.UUID, in ClaimResponseInput) (*InsuranceClaim, error) {
	switch in.Status {
	case ClaimApproved, ClaimPartiallyApproved, ClaimRejected:
	default:
		return nil, apperr.Validation("decision status must be approved, partially_approved or rejected, got %q", in.Status)
	}

	var claim *InsuranceClaim
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.claims.GetByIDForUpdate(ctx, claimID)
		if err != nil {
			return apperr.NotFound("claim", claimID)
		}
		if !CanTransition(c.Status, in.Status) {
			return apperr.BusinessRule("claim %s cannot move from %s to %s", c.ClaimNumber, c.Status, in.Status)
		}
		now := time.Now().UTC()

		switch in.Status {
		case ClaimRejected:
			if in.RejectionReason == nil || strings.TrimSpace(*in.RejectionReason) == "" {
				return apperr.Validation("a rejection reason is required")
			}
			c.RejectionReason = in.RejectionReason
			c.RejectionCodes = in.RejectionCodes
			c.ApprovedAmount = nil

		case ClaimApproved, ClaimPartiallyApproved:
			approved := c.CoverageAmount
			if in.ApprovedAmount != nil {
				approved = round2(*in.ApprovedAmount)
			}
			if in.Status == ClaimPartiallyApproved && in.ApprovedAmount == nil {
				return apperr.Validation("a partial approval requires an approved amount")
			}
			if approved <= 0 {
				return apperr.BusinessRule("approved amount must be positive, got %.2f", approved)
			}
			if approved > c.CoverageAmount {
				return apperr.BusinessRule("approved amount %.2f exceeds claim coverage %.2f", approved, c.CoverageAmount)
			}
			c.ApprovedAmount = &approved

			if err := s.consumeBenefit(ctx, c, approved); err != nil {
				return err
			}
			if err := s.settleBill(ctx, actor, c, approved); err != nil {
				return err
			}
		}

		c.Status = in.Status
		c.DecidedAt = &now
		if err := s.claims.Update(ctx, c); err != nil {
			return err
		}
		claim = c
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "process claim response failed")
	}
	s.log.Info().
		Str("claim_id", claimID.String()).
		Str("status", string(claim.Status)).
		Msg("claim decision recorded")
	return claim, nil
}

// consumeBenefit moves the claim's frozen deductible onto the policy's met
// counter and charges the payout against the annual benefit.
func (s *Service) consumeBenefit(ctx context.Context, c *InsuranceClaim, approved float64) error {
	pol, err := s.policies.GetByIDForUpdate(ctx, c.InsuranceID)
	if err != nil {
		return apperr.NotFound("insurance policy", c.InsuranceID)
	}
	met := pol.DeductibleMet + c.DeductibleApplied
	if met > pol.DeductibleAmount {
		met = pol.DeductibleAmount
	}
	pol.DeductibleMet = round2(met)
	pol.AnnualMaxUsed = round2(pol.AnnualMaxUsed + approved)
	return s.policies.Update(ctx, pol)
}

// settleBill records the insurer's payout as an insurance payment, capped at
// the bill's outstanding balance.
func (s *Service) settleBill(ctx context.Context, actor billing.Actor, c *InsuranceClaim, approved float64) error {
	bill, err := s.bills.GetByIDForUpdate(ctx, c.BillID)
	if err != nil {
		return apperr.NotFound("bill", c.BillID)
	}
	amount := approved
	if amount > bill.BalanceDue {
		amount = bill.BalanceDue
	}
	if amount <= 0 {
		return nil
	}
	ref := c.ClaimNumber
	_, err = s.payments.ProcessPayment(ctx, actor, bill.ID, billing.ProcessPaymentInput{
		Amount:    amount,
		Method:    billing.MethodInsurance,
		Reference: &ref,
	})
	return err
}

// AppealClaim contests a rejected claim.
func (s *Service) AppealClaim(ctx context.Context, claimID uuid.UUID) (*InsuranceClaim, error) {
	return s.transition(ctx, claimID, ClaimAppealed, "appeal claim failed")
}

// CloseClaim ends the claim's lifecycle. Closed claims free their bill for a
// new claim.
func (s *Service) CloseClaim(ctx context.Context, claimID uuid.UUID) (*InsuranceClaim, error) {
	return s.transition(ctx, claimID, ClaimClosed, "close claim failed")
}

func (s *Service) transition(ctx context.Context, claimID uuid.UUID, to ClaimStatus, failMsg string) (*InsuranceClaim, error) {
	var claim *InsuranceClaim
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.claims.GetByIDForUpdate(ctx, claimID)
		if err != nil {
			return apperr.NotFound("claim", claimID)
		}
		if !CanTransition(c.Status, to) {
			return apperr.BusinessRule("claim %s cannot move from %s to %s", c.ClaimNumber, c.Status, to)
		}
		c.Status = to
		if err := s.claims.Update(ctx, c); err != nil {
			return err
		}
		claim = c
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, failMsg)
	}
	return claim, nil
}

// GetClaim returns a claim by id.
func (s *Service) GetClaim(ctx context.Context, id uuid.UUID) (*InsuranceClaim, error) {
	c, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("claim", id)
	}
	return c, nil
}

// ListClaimsByBill returns every claim raised on a bill.
func (s *Service) ListClaimsByBill(ctx context.Context, billID uuid.UUID) ([]*InsuranceClaim, error) {
	cs, err := s.claims.ListByBill(ctx, billID)
	if err != nil {
		return nil, s.wrap(err, "list claims failed")
	}
	return cs, nil
}

func (s *Service) wrap(err error, msg string) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e
	}
	s.log.Error().Err(err).Msg(msg)
	return apperr.Internal(err, msg)
}
