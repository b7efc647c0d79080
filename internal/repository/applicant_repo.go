package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"atsinbox/internal/model"
)

// ApplicantRepository reads the applicants table owned by the ATS core.
type ApplicantRepository struct {
	db *pgxpool.Pool
}

func NewApplicantRepository(db *pgxpool.Pool) *ApplicantRepository {
	return &ApplicantRepository{db: db}
}

// ListKeys returns the (company, job, applied day) projection of every
// applicant with all three set. applied_at is a DATE column; it is read as
// text so no time zone conversion can move it to a neighbouring day.
func (r *ApplicantRepository) ListKeys(ctx context.Context) ([]model.ApplicantRecord, error) {
	defer observe("list_keys", "applicants", time.Now())

	rows, err := r.db.Query(ctx, `
        SELECT company_id::text, job_id::text, to_char(applied_at, 'YYYY-MM-DD')
        FROM applicants
        WHERE company_id IS NOT NULL AND job_id IS NOT NULL AND applied_at IS NOT NULL
    `)
	if err != nil {
		return nil, fmt.Errorf("list applicants: %w", err)
	}
	defer rows.Close()

	var out []model.ApplicantRecord
	for rows.Next() {
		var a model.ApplicantRecord
		if err := rows.Scan(&a.CompanyID, &a.JobID, &a.AppliedDay); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
