package sitekey

import (
	"regexp"
	"strings"
)

// Canonical channel names.
const (
	Direct      = "Direct"
	Indeed      = "Indeed"
	AirWork     = "AirWork"
	Engage      = "Engage"
	Jimoty      = "ジモティー"
	SaiyoKakari = "採用係長"
	KyujinBox   = "求人BOX"
	HelloWork   = "ハローワーク"
)

// Rule maps a predicate over some input text to a channel.
type Rule struct {
	Tag     string
	Match   func(s string) bool
	Channel string
}

// DomainRule matches a sender domain exactly or any of its subdomains.
type DomainRule struct {
	Domain  string
	Channel string
}

// Matches reports whether domain is d.Domain or a subdomain of it.
func (d DomainRule) Matches(domain string) bool {
	return domain == d.Domain || strings.HasSuffix(domain, "."+d.Domain)
}

// Contains returns a predicate matching when s contains sub verbatim.
func Contains(sub string) func(string) bool {
	return func(s string) bool { return strings.Contains(s, sub) }
}

// Pattern returns a case-insensitive regexp predicate. It panics on an
// invalid expression, so it is only meant for static tables.
func Pattern(expr string) func(string) bool {
	re := regexp.MustCompile(`(?i)` + expr)
	return re.MatchString
}

// DefaultSubjectRules are checked against the raw subject before anything
// else. Jimoty relays through generic domains but always names itself in the
// subject.
func DefaultSubjectRules() []Rule {
	return []Rule{
		{Tag: "subject-jimoty", Match: Contains("ジモティ"), Channel: Jimoty},
	}
}

// DefaultDomains is the sender-domain table.
func DefaultDomains() []DomainRule {
	return []DomainRule{
		{Domain: "jmty.jp", Channel: Jimoty},
		{Domain: "indeedemail.com", Channel: Indeed},
		{Domain: "airwork.net", Channel: AirWork},
		{Domain: "saiyo-kakaricho.com", Channel: SaiyoKakari},
		{Domain: "en-gage.net", Channel: Engage},
		{Domain: "hellowork.mhlw.go.jp", Channel: HelloWork},
	}
}

// DefaultContentRules run in order over subject, snippet and sender joined
// together. Order matters: the first match wins.
func DefaultContentRules() []Rule {
	return []Rule{
		{Tag: "content-saiyo-kakaricho", Match: Pattern(`saiyo-kakaricho\.com|採用係長`), Channel: SaiyoKakari},
		{Tag: "content-engage", Match: Pattern(`en-gage\.net|en-gage|engage|エンゲージ`), Channel: Engage},
		{Tag: "content-jimoty", Match: Pattern(`jmty|jimoty|ジモティ`), Channel: Jimoty},
		{Tag: "content-hellowork", Match: Pattern(`hellowork|ハローワーク|mhlw`), Channel: HelloWork},
		{Tag: "content-kyujinbox", Match: Pattern(`kyujinbox|求人box|求人ボックス`), Channel: KyujinBox},
		{Tag: "content-airwork", Match: Pattern(`airwork|air-work`), Channel: AirWork},
		{Tag: "content-indeed", Match: Pattern(`indeed`), Channel: Indeed},
	}
}

// DefaultAliases maps lower-cased spellings to canonical names.
func DefaultAliases() map[string]string {
	return map[string]string{
		"indeed":          Indeed,
		"airwork":         AirWork,
		"air-work":        AirWork,
		"engage":          Engage,
		"en-gage":         Engage,
		"エンゲージ":           Engage,
		"ジモティ":            Jimoty,
		"ジモティー":           Jimoty,
		"jmty":            Jimoty,
		"jimoty":          Jimoty,
		"求人ボックス":          KyujinBox,
		"求人box":           KyujinBox,
		"kyujinbox":       KyujinBox,
		"saiyo-kakaricho": SaiyoKakari,
		"saiyokakaricho":  SaiyoKakari,
		"hellowork":       HelloWork,
		"direct":          Direct,
		"unknown":         Direct,
		"undefined":       Direct,
		"null":            Direct,
	}
}
