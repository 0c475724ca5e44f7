/*
OpenID Connect login client for blockchain domain names ("login with domain").

Feature set includes:

- issuer discovery from domain records, through the [discovery] package
- authorization code flow with PKCE (S256), nonce and opaque state with an application payload
- redirect, popup and server-side session logins
- public clients, and confidential clients using `client_secret_post` or `client_secret_basic`
- ID token verification against the issuer's JWKS
- cached authorizations keyed by client, scope, resource and username, in a pluggable [credstore.Store]
- RP-initiated logout

Most applications use the high-level [ClientApp]. Lower-level helpers ([BuildAuthorizeURL], [CreateCodeChallengeAndVerifier], [EncodeState], [ValidateAuthorization]) can be used in isolation.

## Quickstart

Create a single [ClientApp] during setup:

```
config := oauth.NewClientConfig("my-client-id", "http://localhost:5000/callback")
config.Scope = "openid wallet"

oauthApp := oauth.NewClientApp(&config, nil, discovery.NewAPIDomainResolver(resolverHost, resolverAPIKey))
```

A nil store keeps everything in process memory. Command-line tools will usually want something persistent, such as a [credstore.PebbleStorage].

Start a login by sending the user to the authorization URL:

```
u, err := oauthApp.Login(ctx, oauth.LoginOptions{Username: "brad.crypto"})
if err != nil {
	return err
}
http.Redirect(w, r, u, http.StatusFound)
```

Then complete it in the redirect handler:

```
resp, err := oauthApp.LoginCallback(ctx, oauth.CallbackOptions{URL: fullCallbackURL})
if err != nil {
	return err
}
slog.Info("logged in", "sub", resp.Authorization.Subject())
```

For fragment-mode responses the callback URL has to be read in the user agent, since the fragment never reaches the server. Servers should use [SessionLogin] instead, which stores pending logins in the user's session and uses the `form_post` response mode:

```
login := oauth.NewSessionLogin(oauthApp, oauth.NewCookieInteractionStore(cookieStore, "uauth"))

http.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
	if err := login.StartLogin(w, r, r.PostFormValue("username")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
})
http.HandleFunc("POST /callback", ...)
http.Handle("GET /profile", login.Middleware("openid")(profileHandler))
```

Once logged in, [ClientApp.User] returns claims about the user, including `wallet_address` and `wallet_type_hint` when the `wallet` scope was granted.
*/
package oauth
