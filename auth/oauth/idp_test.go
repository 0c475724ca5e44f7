package oauth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/uauth/uauth-go/credstore"
	"github.com/uauth/uauth-go/discovery"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
)

type grant struct {
	sub       string
	nonce     string
	challenge string
	clientID  string
	scope     string
}

// In-process identity provider, for exercising full login flows.
type testIdP struct {
	t   *testing.T
	srv *httptest.Server
	key *rsa.PrivateKey

	lk     sync.Mutex
	grants map[string]grant
	// last token request form and basic auth credentials
	tokenForm url.Values
	basicUser string
	basicPass string
	// claims added to every ID token
	extraClaims jwt.MapClaims
	// non-empty makes the token endpoint fail with this OAuth error code
	tokenError string
	expiresIn  int64
}

func newTestIdP(t *testing.T) *testIdP {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	idp := &testIdP{
		t:           t,
		key:         priv,
		grants:      map[string]grant{},
		extraClaims: jwt.MapClaims{},
		expiresIn:   3600,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", idp.serveConfig)
	mux.HandleFunc("GET /jwks", idp.serveJWKS)
	mux.HandleFunc("POST /token", idp.serveToken)
	mux.HandleFunc("GET /userinfo", idp.serveUserInfo)
	idp.srv = httptest.NewServer(mux)
	t.Cleanup(idp.srv.Close)
	return idp
}

func (idp *testIdP) URL() string {
	return idp.srv.URL
}

func (idp *testIdP) serveConfig(w http.ResponseWriter, r *http.Request) {
	base := idp.srv.URL
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(discovery.ProviderConfig{
		Issuer:                base,
		AuthorizationEndpoint: base + "/authorize?tenant=test",
		TokenEndpoint:         base + "/token",
		UserInfoEndpoint:      base + "/userinfo",
		EndSessionEndpoint:    base + "/logout",
		JWKSURI:               base + "/jwks",
	})
}

func (idp *testIdP) serveJWKS(w http.ResponseWriter, r *http.Request) {
	key, err := jwk.FromRaw(&idp.key.PublicKey)
	require.NoError(idp.t, err)
	key.Set(jwk.KeyIDKey, "idp-1")
	set := jwk.NewSet()
	set.AddKey(key)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(set)
}

// Simulates the user approving an authorization URL: records a grant for sub and returns the code.
func (idp *testIdP) approve(authURL, sub string) string {
	u, err := url.Parse(authURL)
	require.NoError(idp.t, err)
	q := u.Query()
	code := fmt.Sprintf("code-%d", time.Now().UnixNano())

	idp.lk.Lock()
	defer idp.lk.Unlock()
	idp.grants[code] = grant{
		sub:       sub,
		nonce:     q.Get("nonce"),
		challenge: q.Get("code_challenge"),
		clientID:  q.Get("client_id"),
		scope:     q.Get("scope"),
	}
	return code
}

func (idp *testIdP) serveToken(w http.ResponseWriter, r *http.Request) {
	require.NoError(idp.t, r.ParseForm())
	user, pass, _ := r.BasicAuth()

	idp.lk.Lock()
	idp.tokenForm = r.PostForm
	idp.basicUser, idp.basicPass = user, pass
	g, ok := idp.grants[r.PostForm.Get("code")]
	delete(idp.grants, r.PostForm.Get("code"))
	tokenError := idp.tokenError
	extra := idp.extraClaims
	expiresIn := idp.expiresIn
	idp.lk.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if tokenError != "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": tokenError, "error_description": "rejected by test"})
		return
	}
	if !ok || S256CodeChallenge(r.PostForm.Get("code_verifier")) != g.challenge {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   idp.srv.URL,
		"sub":   g.sub,
		"aud":   g.clientID,
		"nonce": g.nonce,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "idp-1"
	idToken, err := tok.SignedString(idp.key)
	require.NoError(idp.t, err)

	json.NewEncoder(w).Encode(TokenResponse{
		AccessToken: "access-" + g.sub,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		IDToken:     idToken,
		Scope:       g.scope,
	})
}

func (idp *testIdP) serveUserInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	const prefix = "Bearer access-"
	hdr := r.Header.Get("Authorization")
	if len(hdr) <= len(prefix) || hdr[:len(prefix)] != prefix {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_token"})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"sub":              hdr[len(prefix):],
		"wallet_address":   "0xfromuserinfo",
		"wallet_type_hint": "web3",
	})
}

func (idp *testIdP) lastTokenForm() (url.Values, string, string) {
	idp.lk.Lock()
	defer idp.lk.Unlock()
	return idp.tokenForm, idp.basicUser, idp.basicPass
}

// Returns a client whose every domain falls back to the test IdP, with a memory credential store.
func newTestApp(t *testing.T, idp *testIdP) *ClientApp {
	config := NewClientConfig("test-client", "http://127.0.0.1:5000/callback")
	config.FallbackIssuer = idp.URL()
	app := NewClientApp(&config, credstore.NewStore(credstore.NewMemStorage()), nil)

	// the default discovery client refuses loopback addresses
	resolver, ok := app.Resolver.(*discovery.DefaultIssuerResolver)
	require.True(t, ok)
	resolver.Client = idp.srv.Client()
	return app
}
