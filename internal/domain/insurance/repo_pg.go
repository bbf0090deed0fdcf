package insurance

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/pagination"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// =========== Policy Repository ===========

type policyRepoPG struct{ pool *pgxpool.Pool }

func NewPolicyRepoPG(pool *pgxpool.Pool) PolicyRepository { return &policyRepoPG{pool: pool} }

const policyCols = `id, patient_id, provider_name, policy_number, member_id,
	copay_amount, copay_percent, deductible_amount, deductible_met,
	annual_max_amount, annual_max_used, status, expires_at, created_at, updated_at`

func scanPolicy(row pgx.Row) (*PatientInsurance, error) {
	var p PatientInsurance
	err := row.Scan(&p.ID, &p.PatientID, &p.ProviderName, &p.PolicyNumber, &p.MemberID,
		&p.CoPayAmount, &p.CoPayPercent, &p.DeductibleAmount, &p.DeductibleMet,
		&p.AnnualMaxAmount, &p.AnnualMaxUsed, &p.Status, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *policyRepoPG) Create(ctx context.Context, p *PatientInsurance) error {
	p.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient_insurance (id, patient_id, provider_name, policy_number, member_id,
			copay_amount, copay_percent, deductible_amount, deductible_met,
			annual_max_amount, annual_max_used, status, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientID, p.ProviderName, p.PolicyNumber, p.MemberID,
		p.CoPayAmount, p.CoPayPercent, p.DeductibleAmount, p.DeductibleMet,
		p.AnnualMaxAmount, p.AnnualMaxUsed, p.Status, p.ExpiresAt).
		Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *policyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientInsurance, error) {
	return scanPolicy(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+policyCols+` FROM patient_insurance WHERE id = $1`, id))
}

func (r *policyRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*PatientInsurance, error) {
	return scanPolicy(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+policyCols+` FROM patient_insurance WHERE id = $1 FOR UPDATE`, id))
}

func (r *policyRepoPG) Update(ctx context.Context, p *PatientInsurance) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient_insurance SET provider_name=$2, policy_number=$3, member_id=$4,
			copay_amount=$5, copay_percent=$6, deductible_amount=$7, deductible_met=$8,
			annual_max_amount=$9, annual_max_used=$10, status=$11, expires_at=$12, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.ProviderName, p.PolicyNumber, p.MemberID,
		p.CoPayAmount, p.CoPayPercent, p.DeductibleAmount, p.DeductibleMet,
		p.AnnualMaxAmount, p.AnnualMaxUsed, p.Status, p.ExpiresAt)
	return err
}

func (r *policyRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, pg pagination.Params) ([]*PatientInsurance, int, error) {
	c := conn(ctx, r.pool)
	var total int
	if err := c.QueryRow(ctx, `SELECT COUNT(*) FROM patient_insurance WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := c.Query(ctx, `SELECT `+policyCols+` FROM patient_insurance WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, pg.Limit, pg.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var policies []*PatientInsurance
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, 0, err
		}
		policies = append(policies, p)
	}
	return policies, total, rows.Err()
}

// =========== Claim Repository ===========

type claimRepoPG struct{ pool *pgxpool.Pool }

func NewClaimRepoPG(pool *pgxpool.Pool) ClaimRepository { return &claimRepoPG{pool: pool} }

const claimCols = `id, claim_number, bill_id, insurance_id, claim_amount, approved_amount,
	status, deductible_applied, copay_applied, coverage_amount, patient_responsibility,
	rejection_reason, rejection_codes, submitted_by, submitted_at, decided_at,
	created_at, updated_at`

func scanClaim(row pgx.Row) (*InsuranceClaim, error) {
	var c InsuranceClaim
	err := row.Scan(&c.ID, &c.ClaimNumber, &c.BillID, &c.InsuranceID, &c.ClaimAmount, &c.ApprovedAmount,
		&c.Status, &c.DeductibleApplied, &c.CoPayApplied, &c.CoverageAmount, &c.PatientResponsibility,
		&c.RejectionReason, &c.RejectionCodes, &c.SubmittedBy, &c.SubmittedAt, &c.DecidedAt,
		&c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *claimRepoPG) Create(ctx context.Context, c *InsuranceClaim) error {
	c.ID = uuid.New()
	if c.ClaimNumber == "" {
		c.ClaimNumber = "CLM-" + strings.ToUpper(c.ID.String()[:8])
	}
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO insurance_claims (id, claim_number, bill_id, insurance_id, claim_amount, approved_amount,
			status, deductible_applied, copay_applied, coverage_amount, patient_responsibility,
			rejection_reason, rejection_codes, submitted_by, submitted_at, decided_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		c.ID, c.ClaimNumber, c.BillID, c.InsuranceID, c.ClaimAmount, c.ApprovedAmount,
		c.Status, c.DeductibleApplied, c.CoPayApplied, c.CoverageAmount, c.PatientResponsibility,
		c.RejectionReason, c.RejectionCodes, c.SubmittedBy, c.SubmittedAt, c.DecidedAt).
		Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *claimRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*InsuranceClaim, error) {
	return scanClaim(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+claimCols+` FROM insurance_claims WHERE id = $1`, id))
}

func (r *claimRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*InsuranceClaim, error) {
	return scanClaim(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+claimCols+` FROM insurance_claims WHERE id = $1 FOR UPDATE`, id))
}

func (r *claimRepoPG) Update(ctx context.Context, c *InsuranceClaim) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE insurance_claims SET claim_amount=$2, approved_amount=$3, status=$4,
			deductible_applied=$5, copay_applied=$6, coverage_amount=$7, patient_responsibility=$8,
			rejection_reason=$9, rejection_codes=$10, submitted_by=$11, submitted_at=$12, decided_at=$13,
			updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.ClaimAmount, c.ApprovedAmount, c.Status,
		c.DeductibleApplied, c.CoPayApplied, c.CoverageAmount, c.PatientResponsibility,
		c.RejectionReason, c.RejectionCodes, c.SubmittedBy, c.SubmittedAt, c.DecidedAt)
	return err
}

func (r *claimRepoPG) ListByBill(ctx context.Context, billID uuid.UUID) ([]*InsuranceClaim, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+claimCols+` FROM insurance_claims WHERE bill_id = $1 ORDER BY created_at`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var claims []*InsuranceClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func (r *claimRepoPG) ListByPolicy(ctx context.Context, insuranceID uuid.UUID, pg pagination.Params) ([]*InsuranceClaim, int, error) {
	c := conn(ctx, r.pool)
	var total int
	if err := c.QueryRow(ctx, `SELECT COUNT(*) FROM insurance_claims WHERE insurance_id = $1`, insuranceID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := c.Query(ctx, `SELECT `+claimCols+` FROM insurance_claims WHERE insurance_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		insuranceID, pg.Limit, pg.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var claims []*InsuranceClaim
	for rows.Next() {
		cl, err := scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		claims = append(claims, cl)
	}
	return claims, total, rows.Err()
}

func (r *claimRepoPG) HasOpenForBill(ctx context.Context, billID uuid.UUID) (bool, error) {
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM insurance_claims
			WHERE bill_id = $1 AND status NOT IN ($2, $3)
		)`, billID, ClaimClosed, ClaimRejected).Scan(&exists)
	return exists, err
}
