package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier() *Verifier {
	v := NewVerifier("test-secret", "api://receipts", "receipts.readwrite", "https://login.example.com/*/v2.0")
	v.now = func() time.Time { return time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC) }
	return v
}

func validClaims() Claims {
	return Claims{
		Sub: "user-1",
		Aud: "api://receipts",
		Iss: "https://login.example.com/tenant-a/v2.0",
		Scp: "openid receipts.readwrite",
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	v := newTestVerifier()
	token, err := v.Sign(validClaims())
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Sub)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	v := newTestVerifier()
	token, err := v.Sign(validClaims())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[1] = parts[1][:len(parts[1])-2] + "xx"
	_, err = v.Verify(strings.Join(parts, "."))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	other := NewVerifier("other-secret", "", "", "")
	token, err := other.Sign(Claims{Sub: "user-1"})
	require.NoError(t, err)

	_, err = newTestVerifier().Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := newTestVerifier()
	claims := validClaims()
	claims.Exp = v.now().Add(-time.Hour).Unix()
	token, err := v.Sign(claims)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsClaimMismatches(t *testing.T) {
	v := newTestVerifier()

	cases := []struct {
		name   string
		mutate func(*Claims)
	}{
		{"wrong audience", func(c *Claims) { c.Aud = "api://other" }},
		{"missing scope", func(c *Claims) { c.Scp = "openid profile" }},
		{"wrong issuer", func(c *Claims) { c.Iss = "https://evil.example.com/tenant-a/v2.0" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims := validClaims()
			tc.mutate(&claims)
			token, err := v.Sign(claims)
			require.NoError(t, err)

			_, err = v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerifyRejectsMalformedTokens(t *testing.T) {
	v := newTestVerifier()
	for _, token := range []string{"", "abc", "a.b", "a.b.c.d"} {
		_, err := v.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestMatchIssuerWildcard(t *testing.T) {
	assert.True(t, matchIssuer("https://login.example.com/tenant-a/v2.0", "https://login.example.com/*/v2.0"))
	assert.True(t, matchIssuer("https://login.example.com/x", "https://login.example.com/x"))
	assert.False(t, matchIssuer("https://login.example.com/x", "https://login.example.com/y"))
	assert.False(t, matchIssuer("https://evil.com/v2.0", "https://login.example.com/*/v2.0"))
}
