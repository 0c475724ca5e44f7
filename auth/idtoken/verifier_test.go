package idtoken

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testIssuer struct {
	t       *testing.T
	lk      sync.Mutex
	keys    map[string]*rsa.PrivateKey
	fetches int
	srv     *httptest.Server
}

func newTestIssuer(t *testing.T, kids ...string) *testIssuer {
	iss := &testIssuer{t: t, keys: map[string]*rsa.PrivateKey{}}
	for _, kid := range kids {
		iss.addKey(kid)
	}
	iss.srv = httptest.NewServer(http.HandlerFunc(iss.serveJWKS))
	t.Cleanup(iss.srv.Close)
	return iss
}

func (iss *testIssuer) addKey(kid string) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(iss.t, err)
	iss.lk.Lock()
	iss.keys[kid] = priv
	iss.lk.Unlock()
}

func (iss *testIssuer) keySet() jwk.Set {
	iss.lk.Lock()
	defer iss.lk.Unlock()
	set := jwk.NewSet()
	for kid, priv := range iss.keys {
		key, err := jwk.FromRaw(&priv.PublicKey)
		require.NoError(iss.t, err)
		key.Set(jwk.KeyIDKey, kid)
		key.Set(jwk.AlgorithmKey, "RS256")
		set.AddKey(key)
	}
	return set
}

func (iss *testIssuer) serveJWKS(w http.ResponseWriter, r *http.Request) {
	set := iss.keySet()
	iss.lk.Lock()
	iss.fetches++
	iss.lk.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(set)
}

func (iss *testIssuer) fetchCount() int {
	iss.lk.Lock()
	defer iss.lk.Unlock()
	return iss.fetches
}

func (iss *testIssuer) jwksURI() string {
	return iss.srv.URL + "/.well-known/jwks.json"
}

func (iss *testIssuer) sign(kid string, claims jwt.MapClaims) string {
	iss.lk.Lock()
	priv := iss.keys[kid]
	iss.lk.Unlock()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(priv)
	require.NoError(iss.t, err)
	return s
}

func baseClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            "https://auth.example.com",
		"sub":            "alice.crypto",
		"aud":            "client-1",
		"nonce":          "nonce-1",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
		"wallet_address": "0xabc",
	}
}

func TestVerifyValid(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	iss := newTestIssuer(t, "k1")
	v := NewVerifier(iss.srv.Client())
	raw := iss.sign("k1", baseClaims())

	tok, err := v.Verify(ctx, iss.jwksURI(), raw, "nonce-1", "client-1")
	require.NoError(t, err)
	assert.Equal("alice.crypto", tok.Subject())
	assert.Equal([]string{"client-1"}, tok.Audience())
	assert.Equal("nonce-1", tok.Nonce())
	assert.Equal("0xabc", tok.ClaimString("wallet_address"))
	assert.Equal(raw, tok.Raw)

	// second verification is served from the cached key set
	_, err = v.Verify(ctx, iss.jwksURI(), raw, "nonce-1", "client-1")
	assert.NoError(err)
	assert.Equal(1, iss.fetchCount())

	b, err := json.Marshal(tok)
	assert.NoError(err)
	var m map[string]any
	assert.NoError(json.Unmarshal(b, &m))
	assert.Equal(raw, m["__raw"])
	assert.Equal("alice.crypto", m["sub"])

	var back IDToken
	assert.NoError(json.Unmarshal(b, &back))
	assert.Equal(raw, back.Raw)
	assert.Equal("alice.crypto", back.Subject())
	_, hasRaw := back.Claim("__raw")
	assert.False(hasRaw)
}

func TestVerifyFailures(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	iss := newTestIssuer(t, "k1")
	other := newTestIssuer(t, "k1")
	v := NewVerifier(iss.srv.Client())

	raw := iss.sign("k1", baseClaims())
	_, err := v.Verify(ctx, iss.jwksURI(), raw, "other-nonce", "client-1")
	assert.ErrorIs(err, ErrNonceMismatch)

	_, err = v.Verify(ctx, iss.jwksURI(), raw, "nonce-1", "client-2")
	assert.ErrorIs(err, ErrAudienceMismatch)

	// same kid, different key material
	forged := other.sign("k1", baseClaims())
	_, err = v.Verify(ctx, iss.jwksURI(), forged, "nonce-1", "client-1")
	assert.ErrorIs(err, ErrInvalidSignature)

	expired := baseClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	expired["iat"] = time.Now().Add(-2 * time.Hour).Unix()
	_, err = v.Verify(ctx, iss.jwksURI(), iss.sign("k1", expired), "nonce-1", "client-1")
	assert.ErrorIs(err, jwt.ErrTokenExpired)

	hmac := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims())
	hs, err := hmac.SignedString([]byte("shared-secret"))
	assert.NoError(err)
	_, err = v.Verify(ctx, iss.jwksURI(), hs, "nonce-1", "client-1")
	assert.Error(err)
}

func TestVerifyKeyRotation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	iss := newTestIssuer(t, "k1")
	v := NewVerifier(iss.srv.Client())

	_, err := v.Verify(ctx, iss.jwksURI(), iss.sign("k1", baseClaims()), "nonce-1", "client-1")
	assert.NoError(err)
	assert.Equal(1, iss.fetchCount())

	iss.addKey("k2")
	_, err = v.Verify(ctx, iss.jwksURI(), iss.sign("k2", baseClaims()), "nonce-1", "client-1")
	assert.NoError(err)
	assert.Equal(2, iss.fetchCount())

	// unknown key triggers exactly one refetch
	stranger := newTestIssuer(t, "k9")
	_, err = v.Verify(ctx, iss.jwksURI(), stranger.sign("k9", baseClaims()), "nonce-1", "client-1")
	assert.ErrorIs(err, ErrKeyNotFound)
	assert.Equal(3, iss.fetchCount())
}

func TestVerifyLocalJWKS(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	iss := newTestIssuer(t, "k1")
	v := NewVerifier(nil)
	v.LocalJWKS = iss.keySet()

	_, err := v.Verify(ctx, "", iss.sign("k1", baseClaims()), "nonce-1", "")
	assert.NoError(err)
	assert.Equal(0, iss.fetchCount())
}

func TestVerifyECDSAWithoutKeyID(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	key, err := jwk.FromRaw(&priv.PublicKey)
	require.NoError(t, err)
	set := jwk.NewSet()
	set.AddKey(key)

	v := NewVerifier(nil)
	v.LocalJWKS = set
	raw, err := jwt.NewWithClaims(jwt.SigningMethodES256, baseClaims()).SignedString(priv)
	require.NoError(t, err)

	tok, err := v.Verify(ctx, "", raw, "nonce-1", "client-1")
	assert.NoError(err)
	assert.Equal("alice.crypto", tok.Subject())
}

func TestVerifyJWKSFetchError(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	iss := newTestIssuer(t, "k1")
	v := NewVerifier(srv.Client())
	_, err := v.Verify(ctx, srv.URL+"/jwks.json", iss.sign("k1", baseClaims()), "nonce-1", "client-1")
	assert.ErrorIs(err, ErrJWKSFetch)
}
