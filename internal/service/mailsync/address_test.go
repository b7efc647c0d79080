package mailsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                                  "",
		"  ":                                "",
		"Taro@Example.JP":                   "taro@example.jp",
		`"Yamada Taro" <Taro@Example.jp>`:   "taro@example.jp",
		"<recruit@acme.example>":            "recruit@acme.example",
		`"jobs"@beta.example`:               "jobs@beta.example",
		"info@acme.example;;":               "info@acme.example",
		`Indeed <no-reply@indeedemail.com>`: "no-reply@indeedemail.com",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeAddress(in), "input %q", in)
	}
}

func TestSplitAddresses(t *testing.T) {
	got := splitAddresses(`A <a@x.example>, , b@Y.example;`)
	assert.Equal(t, []string{"a@x.example", "b@y.example"}, got)
	assert.Nil(t, splitAddresses(""))
}

func TestNormalizeLabelName(t *testing.T) {
	assert.Equal(t, "ats/応募", normalizeLabelName(" ATS／応募 "))
	assert.Equal(t, "ats 応募", normalizeLabelName("ATS　応募"))
}
