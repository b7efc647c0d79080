package mailsync

import (
	"regexp"
	"strings"
)

var (
	angleAddr   = regexp.MustCompile(`<([^>]+)>`)
	quotedLocal = regexp.MustCompile(`^"([^"]+)"@`)
)

// normalizeAddress reduces a header value such as `"Taro" <Taro@Example.jp>;`
// to a bare lowercase address.
func normalizeAddress(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if m := angleAddr.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	s = strings.TrimSpace(strings.TrimRight(strings.TrimLeft(s, "<"), ">"))
	s = quotedLocal.ReplaceAllString(s, "$1@")
	s = strings.ReplaceAll(s, `"`, "")
	s = strings.TrimSpace(strings.TrimRight(s, ";"))
	return strings.ToLower(s)
}

// splitAddresses normalizes every comma separated entry of a header value.
func splitAddresses(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if e := normalizeAddress(part); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func normalizeLabelName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "／", "/")
	return strings.ReplaceAll(s, "　", " ")
}
