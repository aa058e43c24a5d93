package jwt

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoKeys       = errors.New("no verification keys configured")
)

// Validator checks bearer tokens against a set of certificates. The kid
// header selects the certificate by subject common name.
type Validator struct {
	keys     []*x509.Certificate
	iss, aud string
}

func NewValidator(pubPemPaths []string, issuer, audience string) (*Validator, error) {
	var certs []*x509.Certificate
	for _, p := range pubPemPaths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		c, err := ParseCertificate(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		certs = append(certs, c)
	}
	return &Validator{keys: certs, iss: issuer, aud: audience}, nil
}

func ParseCertificate(b []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	return x509.ParseCertificate(block.Bytes)
}

// Enabled reports whether any key is loaded. Without keys the HTTP surface
// runs unauthenticated.
func (v *Validator) Enabled() bool { return v != nil && len(v.keys) > 0 }

func (v *Validator) Verify(tokenStr string) (jwt.MapClaims, error) {
	if !v.Enabled() {
		return nil, ErrNoKeys
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384"})}
	if v.iss != "" {
		opts = append(opts, jwt.WithIssuer(v.iss))
	}
	if v.aud != "" {
		opts = append(opts, jwt.WithAudience(v.aud))
	}

	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, v.key, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (v *Validator) key(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	for _, c := range v.keys {
		if c.Subject.CommonName == kid {
			return c.PublicKey, nil
		}
	}
	return v.keys[0].PublicKey, nil
}
