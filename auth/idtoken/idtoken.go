// Package idtoken verifies OpenID Connect ID tokens against an issuer's JSON Web Key Set.
//
// Signature and registered-claim checks are done with golang-jwt; key sets are parsed with jwx and cached per JWKS URI. The verified token is returned as an [IDToken], which keeps both the decoded claims and the raw compact form.
package idtoken

import (
	"encoding/json"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrKeyNotFound      = errors.New("no matching key in JWKS")
	ErrInvalidSignature = errors.New("invalid ID token signature")
	ErrNonceMismatch    = errors.New("ID token nonce does not match")
	ErrAudienceMismatch = errors.New("ID token audience does not match")
	ErrJWKSFetch        = errors.New("failed to fetch JWKS")
)

// JSON member holding the compact token when an IDToken is serialized.
const rawMember = "__raw"

// Verified ID token.
type IDToken struct {
	Claims jwt.MapClaims
	Raw    string
}

func (t *IDToken) Subject() string {
	sub, _ := t.Claims.GetSubject()
	return sub
}

func (t *IDToken) Audience() []string {
	aud, _ := t.Claims.GetAudience()
	return aud
}

func (t *IDToken) Nonce() string {
	return t.ClaimString("nonce")
}

// Claim returns a single claim value, and whether it was present.
func (t *IDToken) Claim(name string) (any, bool) {
	v, ok := t.Claims[name]
	return v, ok
}

// ClaimString returns a claim if it is a string, otherwise "".
func (t *IDToken) ClaimString(name string) string {
	s, _ := t.Claims[name].(string)
	return s
}

// MarshalJSON serializes the claims object with an added `__raw` member.
func (t IDToken) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(t.Claims)+1)
	for k, v := range t.Claims {
		out[k] = v
	}
	out[rawMember] = t.Raw
	return json.Marshal(out)
}

func (t *IDToken) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	raw, _ := m[rawMember].(string)
	delete(m, rawMember)
	t.Claims = jwt.MapClaims(m)
	t.Raw = raw
	return nil
}
