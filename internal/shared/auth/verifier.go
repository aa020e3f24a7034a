package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Claims represents the identity contained in a bearer token.
type Claims struct {
	Sub string `json:"sub"`
	Aud string `json:"aud,omitempty"`
	Iss string `json:"iss,omitempty"`
	Scp string `json:"scp,omitempty"`
	Exp int64  `json:"exp,omitempty"`
	Iat int64  `json:"iat,omitempty"`
}

// ErrInvalidToken is returned for any token that fails verification. The
// reason is deliberately not distinguished to the caller.
var ErrInvalidToken = errors.New("invalid token")

// Verifier checks HS256 bearer tokens against a configured audience, scope,
// and issuer pattern. It implements the verify(token) -> claims contract the
// pipeline depends on.
type Verifier struct {
	secret        []byte
	audience      string
	scope         string
	issuerPattern string
	now           func() time.Time
}

// NewVerifier constructs a Verifier. Audience, scope, and issuer pattern are
// each optional; empty values skip that check.
func NewVerifier(secret, audience, scope, issuerPattern string) *Verifier {
	return &Verifier{
		secret:        []byte(secret),
		audience:      audience,
		scope:         scope,
		issuerPattern: issuerPattern,
		now:           time.Now,
	}
}

// Verify validates a compact token and returns its claims.
func (v *Verifier) Verify(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, ErrInvalidToken
	}

	signingInput := strings.Join(parts[0:2], ".")
	expectedSig := sign(signingInput, v.secret)
	if !hmac.Equal([]byte(parts[2]), []byte(expectedSig)) {
		return Claims{}, ErrInvalidToken
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}

	if claims.Sub == "" {
		return Claims{}, ErrInvalidToken
	}
	if claims.Exp > 0 && v.now().UTC().Unix() > claims.Exp {
		return Claims{}, ErrInvalidToken
	}
	if v.audience != "" && claims.Aud != v.audience {
		return Claims{}, ErrInvalidToken
	}
	if v.scope != "" && !hasScope(claims.Scp, v.scope) {
		return Claims{}, ErrInvalidToken
	}
	if v.issuerPattern != "" && !matchIssuer(claims.Iss, v.issuerPattern) {
		return Claims{}, ErrInvalidToken
	}

	return claims, nil
}

// Sign signs the given claims with HS256. Used by tests and dev tooling;
// production token issuance lives with the identity provider.
func (v *Verifier) Sign(claims Claims) (string, error) {
	if claims.Sub == "" {
		return "", errors.New("sub is required")
	}

	now := v.now().UTC().Unix()
	if claims.Iat == 0 {
		claims.Iat = now
	}
	if claims.Exp == 0 {
		claims.Exp = now + int64(24*time.Hour/time.Second)
	}

	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	segments := []string{
		base64.RawURLEncoding.EncodeToString(headerJSON),
		base64.RawURLEncoding.EncodeToString(payloadJSON),
	}
	signingInput := strings.Join(segments, ".")

	segments = append(segments, sign(signingInput, v.secret))
	return strings.Join(segments, "."), nil
}

func hasScope(scp, required string) bool {
	for _, s := range strings.Fields(scp) {
		if s == required {
			return true
		}
	}
	return false
}

// matchIssuer matches an issuer against a pattern where a single '*' matches
// any run of characters, e.g. "https://login.example.com/*/v2.0".
func matchIssuer(iss, pattern string) bool {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return iss == pattern
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	return len(iss) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(iss, prefix) &&
		strings.HasSuffix(iss, suffix)
}

func sign(input string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(input))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
