package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Characters a PKCE verifier is drawn from
const pkceAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_~."

const (
	ChallengeMethodS256  = "S256"
	ChallengeMethodPlain = "plain"

	// Length of generated PKCE verifiers
	VerifierLength = 43
)

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return buf, nil
}

// CreateCodeChallengeAndVerifier generates a PKCE verifier of the given length, and the challenge for it using method (`S256` or `plain`).
func CreateCodeChallengeAndVerifier(length int, method string) (string, string, error) {
	if method != ChallengeMethodS256 && method != ChallengeMethodPlain {
		return "", "", fmt.Errorf("%w: unsupported code challenge method: %s", ErrInvalidConfig, method)
	}
	buf, err := RandomBytes(length)
	if err != nil {
		return "", "", err
	}
	verifier := make([]byte, length)
	for i, b := range buf {
		verifier[i] = pkceAlphabet[int(b)%len(pkceAlphabet)]
	}

	if method == ChallengeMethodPlain {
		return string(verifier), string(verifier), nil
	}
	return string(verifier), S256CodeChallenge(string(verifier)), nil
}

// Computes the S256 PKCE challenge for a verifier: base64url(sha256(verifier)), without padding.
func S256CodeChallenge(verifier string) string {
	h := sha256.New()
	h.Write([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func randomNonce() (string, error) {
	buf, err := RandomBytes(32)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
