package notify

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the bearer-token payload checked at session admission.
// Token issuance lives in the external admin surface; only verification
// happens here.
type TokenClaims struct {
	Tenants []string `json:"tenants"`
	jwt.RegisteredClaims
}

// HasTenant reports whether the claim grants membership of tenantID.
func (c *TokenClaims) HasTenant(tenantID string) bool {
	for _, t := range c.Tenants {
		if t == tenantID {
			return true
		}
	}
	return c.Subject == tenantID
}

// TokenVerifier validates HS256 bearer tokens against a shared secret.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token, including expiry.
func (v *TokenVerifier) Verify(token string) (*TokenClaims, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token")
	}
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
