package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"atsinbox/internal/model"
)

// CompanyRepository reads the companies table owned by the ATS core.
type CompanyRepository struct {
	db *pgxpool.Pool
}

func NewCompanyRepository(db *pgxpool.Pool) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// NamesByID maps each known id in ids to its company name.
func (r *CompanyRepository) NamesByID(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	defer observe("names", "companies", time.Now())

	rows, err := r.db.Query(ctx, `SELECT id::text, company_name FROM companies WHERE id::text = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup company names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var name *string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = deref(name)
	}
	return out, rows.Err()
}

// ListMailTargets returns every company with at least one address the
// mailbox may receive on its behalf.
func (r *CompanyRepository) ListMailTargets(ctx context.Context) ([]model.Company, error) {
	defer observe("mail_targets", "companies", time.Now())

	rows, err := r.db.Query(ctx, `
        SELECT c.id::text, c.company_name, c.application_email,
               p.job_email, p.company_email
        FROM companies c
        LEFT JOIN company_profiles p ON p.company_id = c.id
    `)
	if err != nil {
		return nil, fmt.Errorf("list company mail targets: %w", err)
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		var (
			c                                 model.Company
			name, appEmail, jobEmail, cmpMail *string
		)
		if err := rows.Scan(&c.ID, &name, &appEmail, &jobEmail, &cmpMail); err != nil {
			return nil, err
		}
		c.Name = deref(name)
		c.ApplicationEmail = deref(appEmail)
		c.JobEmail = deref(jobEmail)
		c.CompanyEmail = deref(cmpMail)
		out = append(out, c)
	}
	return out, rows.Err()
}
