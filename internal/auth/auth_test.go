package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "verifier-secret"

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func requestWithToken(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/verifications/x", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestFromRequestValidToken(t *testing.T) {
	token := mintToken(t, testSecret, jwt.MapClaims{
		"sub":    "client-42",
		"jti":    "cred-7",
		"scopes": []string{"verifications:read", "verifications:process"},
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	v := NewVerifier(testSecret, true)
	p, err := v.FromRequest(requestWithToken(token))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "client-42", p.ClientID)
	assert.Equal(t, "cred-7", p.CredentialID)
	assert.Equal(t, []string{"verifications:read", "verifications:process"}, p.Scopes)
}

func TestFromRequestAnonymous(t *testing.T) {
	relaxed := NewVerifier(testSecret, false)
	p, err := relaxed.FromRequest(requestWithToken(""))
	assert.NoError(t, err)
	assert.Nil(t, p)

	enforced := NewVerifier(testSecret, true)
	_, err = enforced.FromRequest(requestWithToken(""))
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestFromRequestRejectsBadTokens(t *testing.T) {
	v := NewVerifier(testSecret, true)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", mintToken(t, "other-secret", jwt.MapClaims{"sub": "c"})},
		{"garbage", "not-a-jwt"},
		{"expired", mintToken(t, testSecret, jwt.MapClaims{
			"sub": "c",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})},
		{"missing subject", mintToken(t, testSecret, jwt.MapClaims{"jti": "cred"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.FromRequest(requestWithToken(tt.token))
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestFromRequestRejectsNonBearer(t *testing.T) {
	v := NewVerifier(testSecret, false)
	r := httptest.NewRequest(http.MethodGet, "/verifications/x", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err := v.FromRequest(r)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestFromRequestRejectsUnsignedAlg(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "c"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	v := NewVerifier(testSecret, true)
	_, err = v.FromRequest(requestWithToken(signed))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
