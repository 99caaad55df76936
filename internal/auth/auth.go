// Package auth adapts the credential store's API-key tokens into a request
// principal. Tokens are HMAC-signed JWTs minted by the credential service;
// this package only verifies and extracts, it never issues credentials or
// authenticates users.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Principal identifies the caller for gating and rate limiting. CredentialID
// keys the tighter per-credential limiter.
type Principal struct {
	ClientID     string
	CredentialID string
	Scopes       []string
}

type Verifier struct {
	secret  []byte
	enforce bool
}

// NewVerifier builds a verifier. When enforce is false, requests without a
// token pass through with a nil principal and the caller falls back to a
// remote-address identity.
func NewVerifier(secret string, enforce bool) *Verifier {
	return &Verifier{secret: []byte(secret), enforce: enforce}
}

// FromRequest extracts and validates the Bearer token. Returns (nil, nil)
// for anonymous requests when enforcement is off.
func (v *Verifier) FromRequest(r *http.Request) (*Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if v.enforce {
			return nil, ErrMissingCredentials
		}
		return nil, nil
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return v.parse(raw)
}

func (v *Verifier) parse(raw string) (*Principal, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, ErrInvalidCredentials
	}

	p := &Principal{ClientID: sub}
	if jti, ok := claims["jti"].(string); ok {
		p.CredentialID = jti
	}
	if rawScopes, ok := claims["scopes"].([]interface{}); ok {
		for _, s := range rawScopes {
			if scope, ok := s.(string); ok {
				p.Scopes = append(p.Scopes, scope)
			}
		}
	}
	return p, nil
}
