package oauth

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/uauth/uauth-go/credstore"
	"github.com/uauth/uauth-go/discovery"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Builds the URL the authorization server would redirect back to, for a fragment-mode response.
func callbackURL(redirectURI string, params url.Values) string {
	return redirectURI + "#" + params.Encode()
}

// Runs Login plus user approval, returning the callback URL.
func approveLogin(t *testing.T, app *ClientApp, idp *testIdP, opts LoginOptions, sub string) string {
	ctx := context.Background()
	authURL, err := app.Login(ctx, opts)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	code := idp.approve(authURL, sub)
	return callbackURL(app.Config.RedirectURI, url.Values{
		"code":  {code},
		"state": {u.Query().Get("state")},
	})
}

func TestLoginStoresRequest(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	app := newTestApp(t, idp)
	fixed := time.Now()
	app.Store.Now = func() time.Time { return fixed }

	var redirected string
	authURL, err := app.Login(ctx, LoginOptions{
		Username: "Alice.Crypto",
		Scope:    "wallet openid openid",
		BeforeRedirect: func(ctx context.Context, u string) error {
			redirected = u
			return nil
		},
	})
	require.NoError(err)
	assert.Equal(authURL, redirected)

	u, err := url.Parse(authURL)
	require.NoError(err)
	q := u.Query()
	assert.Equal(idp.URL()+"/authorize", u.Scheme+"://"+u.Host+u.Path)
	assert.Equal("test", q.Get("tenant"))
	assert.Equal("test-client", q.Get("client_id"))
	assert.Equal("openid wallet", q.Get("scope"))
	assert.Equal("S256", q.Get("code_challenge_method"))
	assert.Equal("alice.crypto", q.Get("login_hint"))
	assert.Equal("600", q.Get("max_age"))
	assert.Equal("login", q.Get("prompt"))
	assert.Equal("code", q.Get("response_type"))
	assert.Equal(ResponseModeFragment, q.Get("response_mode"))
	assert.Equal("uauth-go", q.Get("package_name"))
	assert.NotEmpty(q.Get("code_challenge"))
	assert.NotEmpty(q.Get("nonce"))
	assert.NotEmpty(q.Get("state"))

	entries, err := app.Store.Entries(ctx)
	require.NoError(err)

	reqEntry, ok := entries[keyRequest]
	require.True(ok)
	assert.Equal(int64(300000), reqEntry.ExpiresAt-fixed.UnixMilli())
	var stored AuthorizeRequest
	require.NoError(json.Unmarshal(reqEntry.Value, &stored))
	assert.Equal(q.Get("state"), stored.State)
	assert.Equal(q.Get("nonce"), stored.Nonce)

	verEntry, ok := entries[verifierKey(q.Get("code_challenge"))]
	require.True(ok)
	assert.Equal(int64(300000), verEntry.ExpiresAt-fixed.UnixMilli())
	var verifier string
	require.NoError(json.Unmarshal(verEntry.Value, &verifier))
	assert.Len(verifier, 43)
	assert.Equal(q.Get("code_challenge"), S256CodeChallenge(verifier))
}

func TestLoginFallbackWithoutUsername(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	app := newTestApp(t, idp)
	// no username and no UI: the fallback issuer is fetched with the app client
	app.Resolver = nil

	authURL, err := app.Login(ctx, LoginOptions{})
	assert.NoError(err)
	assert.True(strings.HasPrefix(authURL, idp.URL()+"/authorize"))
	assert.NotContains(authURL, "login_hint")
}

func TestRedirectLogin(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	idp.extraClaims["wallet_address"] = "0xabc"
	idp.extraClaims["wallet_type_hint"] = "web3"
	idp.extraClaims["email"] = ""
	app := newTestApp(t, idp)

	cb := approveLogin(t, app, idp, LoginOptions{
		Username: "alice.crypto",
		State:    map[string]string{"returnTo": "/profile"},
	}, "alice.crypto")

	resp, err := app.LoginCallback(ctx, CallbackOptions{URL: cb})
	require.NoError(err)
	assert.Equal("alice.crypto", resp.Authorization.Subject())
	assert.Equal("access-alice.crypto", resp.Authorization.AccessToken)
	assert.Equal("openid", resp.Authorization.Scope)
	assert.JSONEq(`{"returnTo":"/profile"}`, string(resp.State))

	form, user, _ := idp.lastTokenForm()
	assert.Equal("authorization_code", form.Get("grant_type"))
	assert.Equal("test-client", form.Get("client_id"))
	assert.Empty(form.Get("client_secret"))
	assert.Empty(user)

	// cached authorization, found through the username pointer
	auth, err := app.Authorization(ctx, AuthorizationOptions{})
	require.NoError(err)
	assert.Equal(resp.Authorization.AccessToken, auth.AccessToken)
	assert.Equal(resp.Authorization.IDToken.Raw, auth.IDToken.Raw)

	def, err := app.DefaultUsername(ctx)
	assert.NoError(err)
	assert.Equal("alice.crypto", def)

	info, err := app.User(ctx, UserOptions{})
	require.NoError(err)
	assert.Equal("alice.crypto", info.Subject())
	assert.Equal("0xabc", info.WalletAddress())
	assert.Equal("web3", info.WalletTypeHint())
	_, ok := info["email"]
	assert.False(ok)
	_, ok = info["nonce"]
	assert.False(ok)

	// the request was consumed
	_, err = app.LoginCallback(ctx, CallbackOptions{URL: cb})
	assert.ErrorIs(err, ErrNoPendingRequest)
}

func TestLoginCallbackStateMismatch(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	app := newTestApp(t, idp)

	authURL, err := app.Login(ctx, LoginOptions{Username: "alice.crypto"})
	require.NoError(t, err)
	code := idp.approve(authURL, "alice.crypto")

	_, err = app.LoginCallback(ctx, CallbackOptions{URL: callbackURL(app.Config.RedirectURI, url.Values{
		"code":  {code},
		"state": {"forged."},
	})})
	assert.ErrorIs(err, ErrStateMismatch)

	_, err = app.Authorization(ctx, AuthorizationOptions{Username: "alice.crypto"})
	assert.ErrorIs(err, ErrAuthorizationNotFound)
}

func TestLoginCallbackErrorResponse(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	app := newTestApp(t, idp)

	_, err := app.Login(ctx, LoginOptions{Username: "alice.crypto"})
	require.NoError(t, err)

	_, err = app.LoginCallback(ctx, CallbackOptions{URL: app.Config.RedirectURI + "#error=access_denied"})
	var apiErr *APIError
	assert.ErrorAs(err, &apiErr)
	assert.Equal("access_denied", apiErr.Code)

	// request and verifier are both gone
	entries, err := app.Store.Entries(ctx)
	assert.NoError(err)
	assert.Empty(entries)
}

func TestTokenError(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	idp.tokenError = "invalid_grant"
	app := newTestApp(t, idp)

	cb := approveLogin(t, app, idp, LoginOptions{Username: "alice.crypto"}, "alice.crypto")
	_, err := app.LoginCallback(ctx, CallbackOptions{URL: cb})

	var apiErr *APIError
	assert.ErrorAs(err, &apiErr)
	assert.Equal("invalid_grant", apiErr.Code)
	assert.Equal(400, apiErr.StatusCode)

	_, err = app.Authorization(ctx, AuthorizationOptions{Username: "alice.crypto"})
	assert.ErrorIs(err, ErrAuthorizationNotFound)
	_, err = app.Authorization(ctx, AuthorizationOptions{})
	assert.ErrorIs(err, ErrNoUsername)
}

func TestClientAuthMethods(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)

	app := newTestApp(t, idp)
	require.NoError(t, app.Config.SetClientSecret("s3cret", AuthMethodSecretPost))
	cb := approveLogin(t, app, idp, LoginOptions{Username: "alice.crypto"}, "alice.crypto")
	_, err := app.LoginCallback(ctx, CallbackOptions{URL: cb})
	assert.NoError(err)
	form, user, _ := idp.lastTokenForm()
	assert.Equal("s3cret", form.Get("client_secret"))
	assert.Empty(user)

	app = newTestApp(t, idp)
	require.NoError(t, app.Config.SetClientSecret("s3cret", AuthMethodSecretBasic))
	cb = approveLogin(t, app, idp, LoginOptions{Username: "alice.crypto"}, "alice.crypto")
	_, err = app.LoginCallback(ctx, CallbackOptions{URL: cb})
	assert.NoError(err)
	form, user, pass := idp.lastTokenForm()
	assert.Empty(form.Get("client_secret"))
	assert.Equal("test-client", user)
	assert.Equal("s3cret", pass)

	// secret method configured without a secret
	app = newTestApp(t, idp)
	app.Config.ClientAuthMethod = AuthMethodSecretPost
	cb = approveLogin(t, app, idp, LoginOptions{Username: "alice.crypto"}, "alice.crypto")
	_, err = app.LoginCallback(ctx, CallbackOptions{URL: cb})
	assert.ErrorIs(err, ErrInvalidConfig)
}

func TestQueryAndFormPostCallbacks(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	app := newTestApp(t, idp)

	authURL, err := app.Login(ctx, LoginOptions{Username: "alice.crypto", ResponseMode: ResponseModeQuery})
	require.NoError(t, err)
	u, _ := url.Parse(authURL)
	params := url.Values{"code": {idp.approve(authURL, "alice.crypto")}, "state": {u.Query().Get("state")}}
	resp, err := app.LoginCallback(ctx, CallbackOptions{URL: app.Config.RedirectURI + "?" + params.Encode()})
	assert.NoError(err)
	assert.Equal("alice.crypto", resp.Authorization.Subject())
	assert.Nil(resp.State)

	authURL, err = app.Login(ctx, LoginOptions{Username: "bob.crypto", ResponseMode: ResponseModeFormPost})
	require.NoError(t, err)
	u, _ = url.Parse(authURL)
	params = url.Values{"code": {idp.approve(authURL, "bob.crypto")}, "state": {u.Query().Get("state")}}
	resp, err = app.LoginCallback(ctx, CallbackOptions{URL: app.Config.RedirectURI, Form: params})
	assert.NoError(err)
	assert.Equal("bob.crypto", resp.Authorization.Subject())

	_, err = app.Login(ctx, LoginOptions{Username: "bob.crypto", ResponseMode: ResponseModeFormPost})
	require.NoError(t, err)
	_, err = app.LoginCallback(ctx, CallbackOptions{URL: app.Config.RedirectURI})
	assert.ErrorIs(err, ErrInvalidConfig)
}

func TestAuthorizationScopesDoNotCollide(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	app := newTestApp(t, idp)

	cb := approveLogin(t, app, idp, LoginOptions{Username: "alice.crypto", Scope: "openid"}, "alice.crypto")
	_, err := app.LoginCallback(ctx, CallbackOptions{URL: cb})
	require.NoError(t, err)

	_, err = app.Authorization(ctx, AuthorizationOptions{Scope: "openid wallet"})
	assert.ErrorIs(err, ErrAuthorizationNotFound)

	cb = approveLogin(t, app, idp, LoginOptions{Username: "alice.crypto", Scope: "wallet openid"}, "alice.crypto")
	_, err = app.LoginCallback(ctx, CallbackOptions{URL: cb})
	require.NoError(t, err)

	a1, err := app.Authorization(ctx, AuthorizationOptions{Scope: "openid"})
	assert.NoError(err)
	a2, err := app.Authorization(ctx, AuthorizationOptions{Scope: "openid wallet"})
	assert.NoError(err)
	assert.Equal("openid", a1.Scope)
	assert.Equal("openid wallet", a2.Scope)
	assert.NotEqual(a1.IDToken.Raw, a2.IDToken.Raw)
}

func TestAuthorizationExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	idp.expiresIn = 60
	app := newTestApp(t, idp)
	clock := time.Now()
	app.Store.Now = func() time.Time { return clock }

	cb := approveLogin(t, app, idp, LoginOptions{Username: "alice.crypto"}, "alice.crypto")
	_, err := app.LoginCallback(ctx, CallbackOptions{URL: cb})
	require.NoError(t, err)

	_, err = app.Authorization(ctx, AuthorizationOptions{Username: "alice.crypto"})
	assert.NoError(err)

	clock = clock.Add(61 * time.Second)
	_, err = app.Authorization(ctx, AuthorizationOptions{Username: "alice.crypto"})
	assert.ErrorIs(err, ErrAuthorizationExpired)
	assert.ErrorIs(err, ErrAuthorizationNotFound)

	// expired entries are gone, only the default username survives
	entries, err := app.Store.Entries(ctx)
	assert.NoError(err)
	_, ok := entries[AuthorizationKey("test-client", "", "openid", "alice.crypto")]
	assert.False(ok)
	_, ok = entries[keyDefaultUsername]
	assert.True(ok)
}

func TestClientSecretDefaultsToPost(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	config := ClientConfig{
		ClientID:       "test-client",
		ClientSecret:   "s3cret",
		RedirectURI:    "http://127.0.0.1:5000/callback",
		FallbackIssuer: idp.URL(),
	}
	assert.NoError(config.Validate())
	assert.Equal(AuthMethodSecretPost, config.AuthMethod())
	assert.True(config.IsConfidential())

	app := NewClientApp(&config, credstore.NewStore(credstore.NewMemStorage()), nil)
	resolver, ok := app.Resolver.(*discovery.DefaultIssuerResolver)
	require.True(t, ok)
	resolver.Client = idp.srv.Client()

	cb := approveLogin(t, app, idp, LoginOptions{Username: "alice.crypto"}, "alice.crypto")
	_, err := app.LoginCallback(ctx, CallbackOptions{URL: cb})
	assert.NoError(err)
	form, user, _ := idp.lastTokenForm()
	assert.Equal("s3cret", form.Get("client_secret"))
	assert.Empty(user)

	public := ClientConfig{ClientID: "test-client", RedirectURI: "http://127.0.0.1:5000/callback"}
	assert.NoError(public.Validate())
	assert.Equal(AuthMethodNone, public.AuthMethod())
	assert.False(public.IsConfidential())
}

func TestAuthorizationUsernameNormalized(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	app := newTestApp(t, idp)

	cb := approveLogin(t, app, idp, LoginOptions{Username: "Alice.Crypto"}, "alice.crypto")
	_, err := app.LoginCallback(ctx, CallbackOptions{URL: cb})
	require.NoError(t, err)

	for _, username := range []string{"Alice.Crypto", " alice.crypto", "ALICE.CRYPTO "} {
		info, err := app.User(ctx, UserOptions{AuthorizationOptions: AuthorizationOptions{Username: username}})
		assert.NoError(err, username)
		assert.Equal("alice.crypto", info.Subject(), username)

		auth, err := app.Authorization(ctx, AuthorizationOptions{Username: username})
		assert.NoError(err, username)
		assert.NotNil(auth, username)
	}

	_, err = app.Logout(ctx, LogoutOptions{AuthorizationOptions: AuthorizationOptions{Username: "Alice.Crypto"}})
	assert.NoError(err)
	_, err = app.Authorization(ctx, AuthorizationOptions{Username: "alice.crypto"})
	assert.ErrorIs(err, ErrAuthorizationNotFound)
}

func TestUserFromUserInfo(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	app := newTestApp(t, idp)
	app.Config.UserInfoFromClaims = false

	cb := approveLogin(t, app, idp, LoginOptions{Username: "alice.crypto"}, "alice.crypto")
	_, err := app.LoginCallback(ctx, CallbackOptions{URL: cb})
	require.NoError(t, err)

	info, err := app.User(ctx, UserOptions{Claims: []string{"wallet_address"}})
	assert.NoError(err)
	assert.Equal("alice.crypto", info.Subject())
	assert.Equal("0xfromuserinfo", info.WalletAddress())
	assert.Empty(info.WalletTypeHint())
}

func TestIssuerConfigurationCache(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	app := newTestApp(t, idp)
	app.Config.CacheIssuer = true

	c1, err := app.OpenIDConfiguration(ctx, "alice.crypto")
	require.NoError(t, err)

	var cached discovery.ProviderConfig
	assert.NoError(app.Store.Get(ctx, openIDConfigurationKey("alice.crypto"), &cached))
	assert.Equal(c1.TokenEndpoint, cached.TokenEndpoint)

	// served from the store once cached, even if the resolver would now fail
	app.Resolver = discovery.IssuerResolver(nil)
	c2, err := app.OpenIDConfiguration(ctx, "alice.crypto")
	assert.NoError(err)
	assert.Equal(c1.Issuer, c2.Issuer)
}

func TestLogout(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	app := newTestApp(t, idp)

	cb := approveLogin(t, app, idp, LoginOptions{Username: "alice.crypto"}, "alice.crypto")
	_, err := app.LoginCallback(ctx, CallbackOptions{URL: cb})
	require.NoError(err)

	// local-only logout
	u, err := app.Logout(ctx, LogoutOptions{})
	assert.NoError(err)
	assert.Empty(u)
	_, err = app.Authorization(ctx, AuthorizationOptions{})
	assert.ErrorIs(err, ErrNoUsername)
	_, err = app.Authorization(ctx, AuthorizationOptions{Username: "alice.crypto"})
	assert.ErrorIs(err, ErrAuthorizationNotFound)

	// RP-initiated logout
	app.Config.SetPostLogoutRedirect("http://127.0.0.1:5000/")
	cb = approveLogin(t, app, idp, LoginOptions{Username: "alice.crypto"}, "alice.crypto")
	resp, err := app.LoginCallback(ctx, CallbackOptions{URL: cb})
	require.NoError(err)

	u, err = app.Logout(ctx, LogoutOptions{State: "bye"})
	require.NoError(err)
	parsed, err := url.Parse(u)
	require.NoError(err)
	q := parsed.Query()
	assert.Equal("/logout", parsed.Path)
	assert.Equal(resp.Authorization.IDToken.Raw, q.Get("id_token_hint"))
	assert.Equal("http://127.0.0.1:5000/", q.Get("post_logout_redirect_uri"))
	assert.Equal("test-client", q.Get("client_id"))
	_, err = app.Authorization(ctx, AuthorizationOptions{Username: "alice.crypto"})
	assert.ErrorIs(err, ErrAuthorizationNotFound)

	_, err = app.LogoutCallback(ctx, "http://127.0.0.1:5000/?state=wrong")
	assert.ErrorIs(err, ErrStateMismatch)

	// consumed by the failed attempt
	_, err = app.LogoutCallback(ctx, "http://127.0.0.1:5000/?state="+url.QueryEscape(q.Get("state")))
	assert.ErrorIs(err, ErrNoPendingLogout)
}

func TestLogoutCallback(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	app := newTestApp(t, idp)
	app.Config.SetPostLogoutRedirect("http://127.0.0.1:5000/")

	cb := approveLogin(t, app, idp, LoginOptions{Username: "alice.crypto"}, "alice.crypto")
	_, err := app.LoginCallback(ctx, CallbackOptions{URL: cb})
	require.NoError(t, err)

	u, err := app.Logout(ctx, LogoutOptions{State: map[string]int{"n": 1}})
	require.NoError(t, err)
	parsed, _ := url.Parse(u)

	payload, err := app.LogoutCallback(ctx, "http://127.0.0.1:5000/?state="+url.QueryEscape(parsed.Query().Get("state")))
	assert.NoError(err)
	assert.JSONEq(`{"n":1}`, string(payload))
}

func TestLogoutRequiresRedirect(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	idp := newTestIdP(t)
	app := newTestApp(t, idp)

	cb := approveLogin(t, app, idp, LoginOptions{Username: "alice.crypto"}, "alice.crypto")
	_, err := app.LoginCallback(ctx, CallbackOptions{URL: cb})
	require.NoError(t, err)

	rp := true
	_, err = app.Logout(ctx, LogoutOptions{RPInitiatedLogout: &rp})
	assert.ErrorIs(err, ErrInvalidConfig)

	// nothing was deleted
	_, err = app.Authorization(ctx, AuthorizationOptions{})
	assert.NoError(err)
}

func TestNewClientAppDefaults(t *testing.T) {
	assert := assert.New(t)

	config := NewClientConfig("client", "http://localhost/cb")
	app := NewClientApp(&config, nil, nil)
	assert.NotNil(app.Store)
	assert.NotNil(app.Resolver)
	assert.NotNil(app.Verifier)
	name, _ := app.Versions.Primary()
	assert.Equal("uauth-go", name)

	_, ok := app.Store.Storage.(*credstore.MemStorage)
	assert.True(ok)
}
