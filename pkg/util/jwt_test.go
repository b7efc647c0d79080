package util

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	tok, err := GenerateJWT("ops-1", "secret", time.Hour)
	require.NoError(t, err)

	sub, err := ParseJWT(tok, "secret")
	require.NoError(t, err)
	assert.Equal(t, "ops-1", sub)

	_, err = ParseJWT(tok, "other")
	assert.Error(t, err)
}

func TestParseJWT_Expired(t *testing.T) {
	tok, err := GenerateJWT("ops-1", "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseJWT(tok, "secret")
	assert.Error(t, err)
}

func TestParseJWT_MissingSubject(t *testing.T) {
	tok, err := GenerateJWT("", "secret", time.Hour)
	require.NoError(t, err)
	_, err = ParseJWT(tok, "secret")
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, ExtractToken(r))

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", ExtractToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, ExtractToken(r))
}
