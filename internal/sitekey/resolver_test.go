package sitekey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_SubjectOverrideWins(t *testing.T) {
	cases := []struct {
		from   string
		stored string
	}{
		{"x@indeedemail.com", "Indeed"},
		{"Recruiter <noreply@rct.airwork.net>", "AirWork"},
		{"someone@example.com", ""},
		{"", "エンゲージ"},
	}

	for _, tc := range cases {
		got := Resolve(tc.from, "【ジモティー】新着の応募があります", "indeed engage", tc.stored)
		assert.Equal(t, Jimoty, got, "from=%q stored=%q", tc.from, tc.stored)
	}
}

func TestResolve_Precedence(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		subject string
		snippet string
		stored  string
		want    string
	}{
		{"domain exact", "x@indeedemail.com", "応募がありました", "", "", Indeed},
		{"domain subdomain", "AirWork <info@rct.airwork.net>", "応募", "", "", AirWork},
		{"domain beats content", "no-reply@en-gage.net", "indeed からの転送", "", "", Engage},
		{"domain beats stored", "x@indeedemail.com", "", "", "AirWork", Indeed},
		{"content when domain generic", "jobs@example.com", "求人ボックス経由の応募", "", "", KyujinBox},
		{"content uses snippet", "jobs@example.com", "新着応募", "via Indeed Apply", "", Indeed},
		{"content ordering", "jobs@example.com", "採用係長 / indeed", "", "", SaiyoKakari},
		{"content beats stored", "jobs@example.com", "engage経由", "", "Indeed", Engage},
		{"job-change wording stays direct", "hr@company.co.jp", "Golden転職フェアのご案内", "", "", Direct},
		{"english word before 転職", "a@b.com", "open 転職", "", "", Direct},
		{"unlisted board passes through stored", "jobs@example.com", "hello", "", "wantedly", "wantedly"},
		{"stored fallback", "jobs@example.com", "hello", "", "indeed", Indeed},
		{"stored passthrough", "jobs@example.com", "hello", "", "  Custom Board ", "Custom Board"},
		{"stored placeholder", "jobs@example.com", "hello", "", "unknown", Direct},
		{"nothing", "", "", "", "", Direct},
		{"reply scenario", "noreply@example.com", "Re: 応募について", "", "", Direct},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.from, tt.subject, tt.snippet, tt.stored))
		})
	}
}

func TestResolve_NeverEmpty(t *testing.T) {
	inputs := []string{"", " ", "null", "undefined", "???", "<>", "a@b", "名前 <@>", "\t\n"}
	for _, from := range inputs {
		for _, subject := range inputs {
			for _, stored := range inputs {
				assert.NotEmpty(t, Resolve(from, subject, "", stored))
			}
		}
	}
}

func TestCanonicalize(t *testing.T) {
	tests := map[string]string{
		"":          Direct,
		"   ":       Direct,
		"null":      Direct,
		"undefined": Direct,
		"Unknown":   Direct,
		"DIRECT":    Direct,
		"indeed":    Indeed,
		"INDEED":    Indeed,
		"air-work":  AirWork,
		"エンゲージ":     Engage,
		"ジモティ":      Jimoty,
		"求人ボックス":    KyujinBox,
		" Green ":   "Green",
	}
	for in, want := range tests {
		assert.Equal(t, want, Canonicalize(in), "input %q", in)
	}
}

func TestSenderDomain(t *testing.T) {
	assert.Equal(t, "indeedemail.com", SenderDomain("x@indeedemail.com"))
	assert.Equal(t, "rct.airwork.net", SenderDomain(`"AirWork 採用" <No-Reply@RCT.AirWork.net>`))
	assert.Equal(t, "vm.jmty.jp", SenderDomain("ジモティー <info@vm.jmty.jp>;"))
	assert.Equal(t, "", SenderDomain("not an address"))
	assert.Equal(t, "", SenderDomain(""))
}

func TestDomainRule_Matches(t *testing.T) {
	r := DomainRule{Domain: "jmty.jp", Channel: Jimoty}
	assert.True(t, r.Matches("jmty.jp"))
	assert.True(t, r.Matches("vm.jmty.jp"))
	assert.False(t, r.Matches("notjmty.jp"))
}

func TestContentRulesInIsolation(t *testing.T) {
	for _, rule := range DefaultContentRules() {
		assert.False(t, rule.Match("plain application mail"), rule.Tag)
	}
	byTag := map[string]Rule{}
	for _, rule := range DefaultContentRules() {
		byTag[rule.Tag] = rule
	}
	assert.Len(t, byTag, 7)
	assert.True(t, byTag["content-airwork"].Match("Air-Work 応募通知"))
	assert.False(t, byTag["content-indeed"].Match("転職サイト経由"))
}

func TestZeroResolverFallsBackToDirect(t *testing.T) {
	var r Resolver
	assert.Equal(t, Direct, r.Resolve("x@indeedemail.com", "ジモティ", "indeed", ""))
	assert.Equal(t, "Indeed", r.Resolve("", "", "", "Indeed"))
}
