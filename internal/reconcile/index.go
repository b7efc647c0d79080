package reconcile

import (
	"time"

	"atsinbox/internal/model"
)

const dayLayout = "2006-01-02"

// Index is the set of (company, job, applied day) keys of known applicants.
// It is rebuilt for every request and never mutated afterwards.
type Index struct {
	keys map[string]struct{}
	loc  *time.Location
}

// BuildIndex projects applicant records into an Index. Days are taken in loc
// (UTC when nil). Records missing a company, job or applied time are skipped.
func BuildIndex(records []model.ApplicantRecord, loc *time.Location) *Index {
	if loc == nil {
		loc = time.UTC
	}
	ix := &Index{keys: make(map[string]struct{}, len(records)), loc: loc}
	for _, a := range records {
		day := appliedDay(a, loc)
		if a.CompanyID == "" || a.JobID == "" || day == "" {
			continue
		}
		ix.keys[dayKey(a.CompanyID, a.JobID, day)] = struct{}{}
	}
	return ix
}

func appliedDay(a model.ApplicantRecord, loc *time.Location) string {
	if a.AppliedDay != "" {
		return a.AppliedDay
	}
	if a.AppliedAt.IsZero() {
		return ""
	}
	return a.AppliedAt.In(loc).Format(dayLayout)
}

func dayKey(companyID, jobID, day string) string {
	return companyID + "_" + jobID + "_" + day
}

// Key builds the match key company_job_YYYY-MM-DD.
func Key(companyID, jobID string, at time.Time, loc *time.Location) string {
	return dayKey(companyID, jobID, at.In(loc).Format(dayLayout))
}

// Has reports whether an applicant exists for the company and job on the
// calendar day of at.
func (ix *Index) Has(companyID, jobID string, at time.Time) bool {
	if ix == nil || at.IsZero() {
		return false
	}
	_, ok := ix.keys[Key(companyID, jobID, at, ix.loc)]
	return ok
}

// Len is the number of distinct keys.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.keys)
}
