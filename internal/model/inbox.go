package model

import (
	"strings"
	"time"
)

// Inbox message lifecycle statuses.
const (
	StatusNew        = "new"
	StatusRegistered = "registered"
	StatusNG         = "ng"
	StatusInterview  = "interview"
	StatusOffer      = "offer"
)

// Mail classifications.
const (
	MailTypeApplication    = "application"
	MailTypeNonApplication = "non_application"
)

var allowedStatuses = map[string]bool{
	StatusNew:        true,
	StatusRegistered: true,
	StatusNG:         true,
	StatusInterview:  true,
	StatusOffer:      true,
}

// IsValidStatus reports whether s is one of the fixed lifecycle statuses.
func IsValidStatus(s string) bool {
	return allowedStatuses[s]
}

// IsNewStatus treats an empty status as new, case-insensitively.
func IsNewStatus(s string) bool {
	st := strings.ToLower(strings.TrimSpace(s))
	return st == StatusNew || st == ""
}

// NormalizeMailType maps the accepted spellings of non_application and
// falls back to application for anything else.
func NormalizeMailType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "non_application", "non-application", "nonapplication":
		return MailTypeNonApplication
	default:
		return MailTypeApplication
	}
}

// ParseMailType accepts only the known spellings of the two mail types.
func ParseMailType(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "application":
		return MailTypeApplication, true
	case "non_application", "non-application", "nonapplication":
		return MailTypeNonApplication, true
	default:
		return "", false
	}
}

// InboxMessage is one row of gmail_inbox_messages.
type InboxMessage struct {
	ID             string
	GmailMessageID string
	ThreadID       *string
	FromEmail      string
	ToEmail        *string
	Subject        string
	Snippet        string
	ReceivedAt     time.Time
	SiteKey        string
	Status         string
	JobID          *string
	CompanyID      *string
	MailType       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasJob reports whether the message is linked to a job.
func (m *InboxMessage) HasJob() bool {
	return m.JobID != nil && *m.JobID != ""
}

// HasCompany reports whether the message is linked to a company.
func (m *InboxMessage) HasCompany() bool {
	return m.CompanyID != nil && *m.CompanyID != ""
}

// InboxFilter narrows a page query.
type InboxFilter struct {
	ToEmail string
	Search  string
	Limit   int
	Offset  int
}

// InboxPatch carries the independently optional fields of a manual update.
// A nil pointer means "leave unchanged"; an empty string clears job/company.
type InboxPatch struct {
	Status    *string
	JobID     *string
	CompanyID *string
	MailType  *string
}

// IsEmpty reports whether no field is set.
func (p InboxPatch) IsEmpty() bool {
	return p.Status == nil && p.JobID == nil && p.CompanyID == nil && p.MailType == nil
}

// ApplicantRecord is the read-only projection of an applicant used for
// reconciliation.
type ApplicantRecord struct {
	CompanyID string
	JobID     string
	// AppliedDay is the stored calendar day (YYYY-MM-DD). When set it is
	// used as is; otherwise AppliedAt is truncated in the index location.
	AppliedDay string
	AppliedAt  time.Time
}

// Company is the subset of a company used by this service.
type Company struct {
	ID               string
	Name             string
	ApplicationEmail string
	JobEmail         string
	CompanyEmail     string
}
