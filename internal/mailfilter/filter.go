// Package mailfilter holds the pure predicates applied to inbox subjects:
// reply/forward detection and the triage hints shown next to each message.
package mailfilter

import (
	"regexp"
	"strings"
	"time"

	"atsinbox/internal/model"
)

var (
	bracketPrefix = regexp.MustCompile(`^\s*(\[[^\]]*\]\s*)+`)
	replyPrefix   = regexp.MustCompile(`(?i)^(re|fw|fwd)\s*[:：]`)
	localPrefix   = regexp.MustCompile(`^(返信|転送)\s*[:：]`)
)

// IsReplyLike reports whether subject marks a reply or forward of an earlier
// thread. Leading [tags] such as mailing-list prefixes are ignored.
func IsReplyLike(subject string) bool {
	s := strings.TrimSpace(subject)
	s = strings.TrimSpace(bracketPrefix.ReplaceAllString(s, ""))
	return replyPrefix.MatchString(s) || localPrefix.MatchString(s)
}

// Mail classes derived from subject and snippet keywords.
const (
	ClassOffer       = "offer"
	ClassInterview   = "interview"
	ClassScreening   = "screening"
	ClassReceived    = "received"
	ClassApplication = "application"
	ClassOther       = "other"
)

var classRules = []struct {
	class string
	re    *regexp.Regexp
}{
	{ClassOffer, regexp.MustCompile(`(?i)内定|オファー|offer|採用決定|採用通知`)},
	{ClassInterview, regexp.MustCompile(`(?i)面接|面談|interview|日程|候補日|スケジュール|予約|zoom|google meet`)},
	{ClassScreening, regexp.MustCompile(`(?i)書類|選考|結果|合否|不採用|見送り|通過|一次|二次|三次|審査`)},
	{ClassReceived, regexp.MustCompile(`(?i)受付|受け付け|応募ありがとう|ご応募ありがとうございます|自動返信|auto|received`)},
	{ClassApplication, regexp.MustCompile(`(?i)応募|エントリー|apply|application|応募完了|ご応募`)},
}

// Classify returns the first matching mail class for subject and snippet.
func Classify(subject, snippet string) string {
	s := strings.ToLower(subject + "\n" + snippet)
	for _, r := range classRules {
		if r.re.MatchString(s) {
			return r.class
		}
	}
	return ClassOther
}

// Attention levels for messages still waiting on triage.
const (
	AttentionNone = "none"
	Attention24h  = "24h"
	Attention48h  = "48h"
)

// Attention grades how long a new message has been waiting. Non-new
// messages and unknown receive times never need attention.
func Attention(receivedAt time.Time, status string, now time.Time) string {
	if !model.IsNewStatus(status) || receivedAt.IsZero() {
		return AttentionNone
	}
	waited := now.Sub(receivedAt)
	switch {
	case waited >= 48*time.Hour:
		return Attention48h
	case waited >= 24*time.Hour:
		return Attention24h
	default:
		return AttentionNone
	}
}
