package insurance

import (
	"math"
	"time"

	"github.com/google/uuid"
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// PolicyStatus is the administrative state of a patient insurance policy.
type PolicyStatus string

const (
	PolicyActive    PolicyStatus = "active"
	PolicyInactive  PolicyStatus = "inactive"
	PolicyCancelled PolicyStatus = "cancelled"
)

// ClaimStatus is the workflow state of an insurance claim.
type ClaimStatus string

const (
	ClaimDraft             ClaimStatus = "draft"
	ClaimSubmitted         ClaimStatus = "submitted"
	ClaimPending           ClaimStatus = "pending"
	ClaimApproved          ClaimStatus = "approved"
	ClaimPartiallyApproved ClaimStatus = "partially_approved"
	ClaimRejected          ClaimStatus = "rejected"
	ClaimAppealed          ClaimStatus = "appealed"
	ClaimClosed            ClaimStatus = "closed"
)

// claimTransitions encodes the allowed claim state machine. An insurer may
// decide a claim directly from submitted without an intermediate pending
// review.
var claimTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimDraft:             {ClaimSubmitted},
	ClaimSubmitted:         {ClaimPending, ClaimApproved, ClaimPartiallyApproved, ClaimRejected},
	ClaimPending:           {ClaimApproved, ClaimPartiallyApproved, ClaimRejected},
	ClaimApproved:          {ClaimClosed},
	ClaimPartiallyApproved: {ClaimClosed},
	ClaimRejected:          {ClaimAppealed, ClaimClosed},
	ClaimAppealed:          {ClaimPending, ClaimApproved, ClaimPartiallyApproved, ClaimRejected, ClaimClosed},
	ClaimClosed:            {},
}

// CanTransition reports whether a claim may move from one status to another.
func CanTransition(from, to ClaimStatus) bool {
	for _, s := range claimTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PatientInsurance maps to the patient_insurance table: one policy held by a
// patient with its cost-sharing parameters and running counters.
type PatientInsurance struct {
	ID               uuid.UUID    `db:"id" json:"id"`
	PatientID        uuid.UUID    `db:"patient_id" json:"patient_id"`
	ProviderName     string       `db:"provider_name" json:"provider_name"`
	PolicyNumber     string       `db:"policy_number" json:"policy_number"`
	MemberID         *string      `db:"member_id" json:"member_id,omitempty"`
	CoPayAmount      float64      `db:"copay_amount" json:"copay_amount"`
	CoPayPercent     float64      `db:"copay_percent" json:"copay_percent"`
	DeductibleAmount float64      `db:"deductible_amount" json:"deductible_amount"`
	DeductibleMet    float64      `db:"deductible_met" json:"deductible_met"`
	AnnualMaxAmount  float64      `db:"annual_max_amount" json:"annual_max_amount"`
	AnnualMaxUsed    float64      `db:"annual_max_used" json:"annual_max_used"`
	Status           PolicyStatus `db:"status" json:"status"`
	ExpiresAt        *time.Time   `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`
}

// DeductibleRemaining returns the part of the deductible the patient still
// has to absorb this policy year.
func (p *PatientInsurance) DeductibleRemaining() float64 {
	rem := p.DeductibleAmount - p.DeductibleMet
	if rem < 0 {
		return 0
	}
	return rem
}

// AnnualRemaining returns the benefit amount still available, or -1 when the
// policy carries no annual cap.
func (p *PatientInsurance) AnnualRemaining() float64 {
	if p.AnnualMaxAmount <= 0 {
		return -1
	}
	rem := p.AnnualMaxAmount - p.AnnualMaxUsed
	if rem < 0 {
		return 0
	}
	return rem
}

// Usable reports whether the policy can cover a claim at the given time.
func (p *PatientInsurance) Usable(now time.Time) bool {
	if p.Status != PolicyActive {
		return false
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return false
	}
	return true
}

// InsuranceClaim maps to the insurance_claims table: one reimbursement
// request for a bill against a policy, with the coverage breakdown frozen at
// submission time.
type InsuranceClaim struct {
	ID                    uuid.UUID   `db:"id" json:"id"`
	ClaimNumber           string      `db:"claim_number" json:"claim_number"`
	BillID                uuid.UUID   `db:"bill_id" json:"bill_id"`
	InsuranceID           uuid.UUID   `db:"insurance_id" json:"insurance_id"`
	ClaimAmount           float64     `db:"claim_amount" json:"claim_amount"`
	ApprovedAmount        *float64    `db:"approved_amount" json:"approved_amount,omitempty"`
	Status                ClaimStatus `db:"status" json:"status"`
	DeductibleApplied     float64     `db:"deductible_applied" json:"deductible_applied"`
	CoPayApplied          float64     `db:"copay_applied" json:"copay_applied"`
	CoverageAmount        float64     `db:"coverage_amount" json:"coverage_amount"`
	PatientResponsibility float64     `db:"patient_responsibility" json:"patient_responsibility"`
	RejectionReason       *string     `db:"rejection_reason" json:"rejection_reason,omitempty"`
	RejectionCodes        []string    `db:"rejection_codes" json:"rejection_codes,omitempty"`
	SubmittedBy           uuid.UUID   `db:"submitted_by" json:"submitted_by"`
	SubmittedAt           *time.Time  `db:"submitted_at" json:"submitted_at,omitempty"`
	DecidedAt             *time.Time  `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt             time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time   `db:"updated_at" json:"updated_at"`
}

// Open reports whether the claim still occupies its bill, blocking another
// claim on the same policy.
func (c *InsuranceClaim) Open() bool {
	return c.Status != ClaimClosed && c.Status != ClaimRejected
}

// Coverage is the cost-sharing breakdown for a claim amount against a
// policy: deductible first, then co-pay, then the annual benefit cap.
type Coverage struct {
	ClaimAmount           float64 `json:"claim_amount"`
	DeductibleApplied     float64 `json:"deductible_applied"`
	CoPayApplied          float64 `json:"copay_applied"`
	CoverageAmount        float64 `json:"coverage_amount"`
	PatientResponsibility float64 `json:"patient_responsibility"`
	CappedByAnnualMax     bool    `json:"capped_by_annual_max"`
}

// ComputeCoverage applies the policy's cost-sharing pipeline to a claim
// amount. The patient responsibility and the coverage amount always sum to
// the claim amount.
func ComputeCoverage(amount float64, pol *PatientInsurance) Coverage {
	cov := Coverage{ClaimAmount: round2(amount)}
	if amount <= 0 {
		return cov
	}

	deductible := pol.DeductibleRemaining()
	if deductible > amount {
		deductible = amount
	}
	cov.DeductibleApplied = round2(deductible)

	after := amount - deductible
	var copay float64
	if pol.CoPayAmount > 0 {
		copay = pol.CoPayAmount
	} else if pol.CoPayPercent > 0 {
		copay = after * pol.CoPayPercent / 100
	}
	if copay > after {
		copay = after
	}
	cov.CoPayApplied = round2(copay)

	covered := after - copay
	if rem := pol.AnnualRemaining(); rem >= 0 && covered > rem {
		covered = rem
		cov.CappedByAnnualMax = true
	}
	cov.CoverageAmount = round2(covered)
	cov.PatientResponsibility = round2(amount - covered)
	return cov
}
