// Package sitekey attributes an inbound application email to the recruitment
// channel it came from.
package sitekey

import (
	"regexp"
	"strings"
)

var addrPattern = regexp.MustCompile(`[a-z0-9._%+\-]+@([a-z0-9.\-]+\.[a-z]{2,})`)

// Resolver holds the ordered rule tables. The zero value resolves everything
// to Direct; use NewResolver for the production tables.
type Resolver struct {
	SubjectRules []Rule
	Domains      []DomainRule
	ContentRules []Rule
	Aliases      map[string]string
}

// NewResolver returns a resolver loaded with the default tables.
func NewResolver() *Resolver {
	return &Resolver{
		SubjectRules: DefaultSubjectRules(),
		Domains:      DefaultDomains(),
		ContentRules: DefaultContentRules(),
		Aliases:      DefaultAliases(),
	}
}

var defaultResolver = NewResolver()

// Resolve uses the default tables.
func Resolve(from, subject, snippet, stored string) string {
	return defaultResolver.Resolve(from, subject, snippet, stored)
}

// Canonicalize uses the default alias table.
func Canonicalize(raw string) string {
	return defaultResolver.Canonicalize(raw)
}

// IsDirect reports whether raw canonicalizes to the generic fallback.
func IsDirect(raw string) bool {
	return defaultResolver.Canonicalize(raw) == Direct
}

// Resolve picks the channel for a message. First match wins: subject
// override, sender domain, content keywords, stored value, Direct. It never
// returns an empty string.
func (r *Resolver) Resolve(from, subject, snippet, stored string) string {
	for _, rule := range r.SubjectRules {
		if rule.Match(subject) {
			return r.Canonicalize(rule.Channel)
		}
	}

	if ch := r.Canonicalize(r.FromDomain(from)); ch != Direct {
		return ch
	}

	if ch, ok := r.FromContent(strings.Join([]string{subject, snippet, from}, "\n")); ok {
		return r.Canonicalize(ch)
	}

	if saved := r.Canonicalize(stored); saved != Direct {
		return saved
	}

	return Direct
}

// FromDomain maps the sender's domain through the domain table, returning
// Direct when nothing matches.
func (r *Resolver) FromDomain(from string) string {
	domain := SenderDomain(from)
	if domain == "" {
		return Direct
	}
	for _, d := range r.Domains {
		if d.Matches(domain) {
			return d.Channel
		}
	}
	return Direct
}

// FromContent runs the content rules in order over text.
func (r *Resolver) FromContent(text string) (string, bool) {
	s := strings.ToLower(text)
	for _, rule := range r.ContentRules {
		if rule.Match(s) {
			return rule.Channel, true
		}
	}
	return "", false
}

// Canonicalize folds known aliases and casing variants into canonical names.
// Empty and placeholder values become Direct; unknown values pass through
// trimmed.
func (r *Resolver) Canonicalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Direct
	}
	if canon, ok := r.Aliases[strings.ToLower(s)]; ok {
		return canon
	}
	return s
}

// SenderDomain extracts the lower-cased domain of the address in a From
// header. Both "Name <addr>" and bare addresses are accepted.
func SenderDomain(from string) string {
	raw := strings.ToLower(from)
	inner := raw
	if i := strings.Index(raw, "<"); i >= 0 {
		if j := strings.Index(raw[i+1:], ">"); j >= 0 {
			inner = raw[i+1 : i+1+j]
		}
	}
	m := addrPattern.FindStringSubmatch(inner)
	if m == nil {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(m[1]), ">; \t")
}
