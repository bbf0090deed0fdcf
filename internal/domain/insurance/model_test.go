package insurance

import (
	"testing"
	"time"
)

func TestComputeCoverage(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
		policy PatientInsurance
		want   Coverage
	}{
		{
			name:   "deductible then fixed copay",
			amount: 1000,
			policy: PatientInsurance{DeductibleAmount: 200, CoPayAmount: 50},
			want: Coverage{
				ClaimAmount:           1000,
				DeductibleApplied:     200,
				CoPayApplied:          50,
				CoverageAmount:        750,
				PatientResponsibility: 250,
			},
		},
		{
			name:   "percentage copay on post-deductible amount",
			amount: 1000,
			policy: PatientInsurance{DeductibleAmount: 200, CoPayPercent: 10},
			want: Coverage{
				ClaimAmount:           1000,
				DeductibleApplied:     200,
				CoPayApplied:          80,
				CoverageAmount:        720,
				PatientResponsibility: 280,
			},
		},
		{
			name:   "partially met deductible",
			amount: 500,
			policy: PatientInsurance{DeductibleAmount: 200, DeductibleMet: 150},
			want: Coverage{
				ClaimAmount:           500,
				DeductibleApplied:     50,
				CoverageAmount:        450,
				PatientResponsibility: 50,
			},
		},
		{
			name:   "deductible exceeds claim amount",
			amount: 100,
			policy: PatientInsurance{DeductibleAmount: 500},
			want: Coverage{
				ClaimAmount:           100,
				DeductibleApplied:     100,
				CoverageAmount:        0,
				PatientResponsibility: 100,
			},
		},
		{
			name:   "annual maximum caps the payout",
			amount: 1000,
			policy: PatientInsurance{AnnualMaxAmount: 5000, AnnualMaxUsed: 4700},
			want: Coverage{
				ClaimAmount:           1000,
				CoverageAmount:        300,
				PatientResponsibility: 700,
				CappedByAnnualMax:     true,
			},
		},
		{
			name:   "no annual cap when unset",
			amount: 100000,
			policy: PatientInsurance{},
			want: Coverage{
				ClaimAmount:           100000,
				CoverageAmount:        100000,
				PatientResponsibility: 0,
			},
		},
		{
			name:   "fixed copay larger than post-deductible amount",
			amount: 100,
			policy: PatientInsurance{CoPayAmount: 150},
			want: Coverage{
				ClaimAmount:           100,
				CoPayApplied:          100,
				CoverageAmount:        0,
				PatientResponsibility: 100,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeCoverage(tt.amount, &tt.policy)
			if got != tt.want {
				t.Errorf("ComputeCoverage() = %+v, want %+v", got, tt.want)
			}
			if round2(got.CoverageAmount+got.PatientResponsibility) != round2(tt.amount) {
				t.Errorf("coverage %v + responsibility %v does not sum to claim amount %v",
					got.CoverageAmount, got.PatientResponsibility, tt.amount)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to ClaimStatus }{
		{ClaimDraft, ClaimSubmitted},
		{ClaimSubmitted, ClaimPending},
		{ClaimSubmitted, ClaimApproved},
		{ClaimSubmitted, ClaimRejected},
		{ClaimPending, ClaimPartiallyApproved},
		{ClaimRejected, ClaimAppealed},
		{ClaimAppealed, ClaimApproved},
		{ClaimApproved, ClaimClosed},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tr.from, tr.to)
		}
	}

	forbidden := []struct{ from, to ClaimStatus }{
		{ClaimDraft, ClaimApproved},
		{ClaimApproved, ClaimRejected},
		{ClaimClosed, ClaimSubmitted},
		{ClaimClosed, ClaimAppealed},
		{ClaimSubmitted, ClaimAppealed},
		{ClaimApproved, ClaimApproved},
	}
	for _, tr := range forbidden {
		if CanTransition(tr.from, tr.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tr.from, tr.to)
		}
	}
}

func TestPolicyUsable(t *testing.T) {
	now := time.Now()
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name   string
		policy PatientInsurance
		want   bool
	}{
		{"active without expiry", PatientInsurance{Status: PolicyActive}, true},
		{"active before expiry", PatientInsurance{Status: PolicyActive, ExpiresAt: &future}, true},
		{"active after expiry", PatientInsurance{Status: PolicyActive, ExpiresAt: &past}, false},
		{"inactive", PatientInsurance{Status: PolicyInactive}, false},
		{"cancelled", PatientInsurance{Status: PolicyCancelled, ExpiresAt: &future}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Usable(now); got != tt.want {
				t.Errorf("Usable() = %v, want %v", got, tt.want)
			}
		})
	}
}
