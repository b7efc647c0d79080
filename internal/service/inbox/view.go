package inbox

import (
	"time"

	"atsinbox/internal/kpi"
)

// Item is the list and detail view of one inbox message.
type Item struct {
	ID             string    `json:"id"`
	GmailMessageID string    `json:"gmailMessageId"`
	ThreadID       *string   `json:"threadId"`
	FromEmail      string    `json:"fromEmail"`
	ToEmail        *string   `json:"toEmail"`
	Subject        string    `json:"subject"`
	Snippet        string    `json:"snippet"`
	ReceivedAt     time.Time `json:"receivedAt"`
	SiteKey        string    `json:"siteKey"`
	Status         string    `json:"status"`
	JobID          *string   `json:"jobId"`
	CompanyID      *string   `json:"companyId"`
	CompanyName    *string   `json:"companyName"`
	MailType       string    `json:"mailType"`
	IsReply        bool      `json:"isReply"`
	MailClass      string    `json:"mailClass"`
	Attention      string    `json:"attention"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Detail struct {
	Item
	BodyHTML *string `json:"bodyHtml"`
	BodyText *string `json:"bodyText"`
}

type PageInfo struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasPrev    bool `json:"hasPrev"`
	HasNext    bool `json:"hasNext"`
}

type ListResult struct {
	Items []Item    `json:"items"`
	Page  PageInfo  `json:"page"`
	Stats kpi.Stats `json:"stats"`
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ListParams are the raw query inputs; Normalize clamps them.
type ListParams struct {
	Limit   int
	Page    int
	ToEmail string
	Search  string
}

// Normalize clamps limit to [1, MaxLimit] (DefaultLimit when unset) and page
// to >= 1.
func (p ListParams) Normalize() ListParams {
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultLimit
	case p.Limit > MaxLimit:
		p.Limit = MaxLimit
	}
	if p.Page < 1 {
		p.Page = 1
	}
	return p
}

// NewPageInfo derives pagination metadata. An empty result still has one
// page.
func NewPageInfo(page, limit, total int) PageInfo {
	totalPages := 1
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return PageInfo{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasPrev:    page > 1,
		HasNext:    page < totalPages,
	}
}

// PatchRequest holds the fields present in a patch body. A nil field was
// absent; a present JSON null arrives as "".
type PatchRequest struct {
	Status    *string
	JobID     *string
	CompanyID *string
	MailType  *string
}
