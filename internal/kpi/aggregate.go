// Package kpi computes the global funnel counters shown above the inbox.
package kpi

import (
	"time"

	"atsinbox/internal/mailfilter"
	"atsinbox/internal/model"
	"atsinbox/internal/reconcile"
	"atsinbox/internal/sitekey"
)

const (
	AttentionAfter = 24 * time.Hour
	StaleAfter     = 7 * 24 * time.Hour
)

type Stats struct {
	TotalNew          int `json:"totalNew"`
	TotalAttention    int `json:"totalAttention"`
	TotalUnlinked     int `json:"totalUnlinked"`
	TotalDirect       int `json:"totalDirect"`
	TotalNoJob        int `json:"totalNoJob"`
	TotalLinkedButNew int `json:"totalLinkedButNew"`
}

// Counts reports whether m takes part in the funnel: an application mail
// that is not a reply or forward.
func Counts(m *model.InboxMessage) bool {
	return model.NormalizeMailType(m.MailType) == model.MailTypeApplication && !mailfilter.IsReplyLike(m.Subject)
}

// Aggregate computes Stats over msgs at now. Effective statuses come from
// ix, so a message matched to an applicant no longer counts as new. A zero
// ReceivedAt is treated as infinitely old.
func Aggregate(msgs []model.InboxMessage, ix *reconcile.Index, now time.Time) Stats {
	var s Stats
	for i := range msgs {
		m := &msgs[i]
		if !Counts(m) {
			continue
		}

		status, _ := reconcile.EffectiveStatus(m, ix)
		isNew := model.IsNewStatus(status)
		hasJob := m.HasJob()
		fresh, attention := windows(m.ReceivedAt, now)

		if isNew && fresh {
			s.TotalNew++
			if hasJob {
				s.TotalLinkedButNew++
			} else {
				s.TotalNoJob++
			}
		}
		if isNew && attention {
			s.TotalAttention++
		}
		if !hasJob {
			s.TotalUnlinked++
		}
		if sitekey.IsDirect(m.SiteKey) {
			s.TotalDirect++
		}
	}
	return s
}

// windows reports elapsed <= 7d and 24h <= elapsed <= 7d. Both bounds are
// inclusive.
func windows(receivedAt, now time.Time) (fresh, attention bool) {
	if receivedAt.IsZero() {
		return false, false
	}
	elapsed := now.Sub(receivedAt)
	fresh = elapsed <= StaleAfter
	attention = fresh && elapsed >= AttentionAfter
	return fresh, attention
}
