package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/uauth/uauth-go/auth/idtoken"
	"github.com/uauth/uauth-go/credstore"
	"github.com/uauth/uauth-go/discovery"
	"github.com/uauth/uauth-go/version"
)

// High-level login client: builds authorization requests, handles callbacks, and caches the resulting authorizations in a credential store.
type ClientApp struct {
	Config   *ClientConfig
	Store    *credstore.Store
	Resolver discovery.IssuerResolver
	Verifier *idtoken.Verifier

	// Used for token, userinfo, and fallback-issuer requests
	Client *http.Client

	// Optional; prompts for a username when a login does not name one
	UI       UI
	Versions *version.Registry
	Logger   *slog.Logger
}

// Creates a client with the default discovery stack. A nil store is backed by process memory, and a nil domain resolver knows no records (so every domain uses the fallback issuer).
func NewClientApp(config *ClientConfig, store *credstore.Store, domains discovery.DomainResolver) *ClientApp {
	if store == nil {
		store = credstore.NewStore(credstore.NewMemStorage())
	}
	if domains == nil {
		domains = discovery.NewMemoryDomainResolver()
	}

	resolver := discovery.NewIssuerResolver(domains)
	if config.IPFSGateway != nil {
		if wf, ok := resolver.WebFinger.(*discovery.RecordWebFingerResolver); ok {
			wf.IPFS.CreateURL = config.IPFSGateway
		}
	}

	client := &http.Client{Timeout: 30 * time.Second}
	verifier := idtoken.NewVerifier(client)
	verifier.LocalJWKS = config.JWKS

	return &ClientApp{
		Config:   config,
		Store:    store,
		Resolver: resolver,
		Verifier: verifier,
		Client:   client,
		Versions: version.NewRegistry(),
		Logger:   slog.Default().With("component", "oauth"),
	}
}

func (app *ClientApp) logger() *slog.Logger {
	if app.Logger == nil {
		return slog.Default()
	}
	return app.Logger
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// OpenIDConfiguration returns the provider configuration for the issuer of a username. An empty username returns the fallback issuer's configuration.
func (app *ClientApp) OpenIDConfiguration(ctx context.Context, username string) (*discovery.ProviderConfig, error) {
	username = normalizeUsername(username)
	if username == "" {
		return discovery.FetchProviderConfig(ctx, app.Client, app.logger(), app.Config.fallbackIssuer())
	}

	if !app.Config.CacheIssuer {
		return app.Resolver.Resolve(ctx, username, app.Config.fallbackIssuer())
	}

	key := openIDConfigurationKey(username)
	var config discovery.ProviderConfig
	err := app.Store.Get(ctx, key, &config)
	if err == nil {
		issuerConfigCacheHits.Inc()
		return &config, nil
	}
	if !errors.Is(err, credstore.ErrNotFound) {
		return nil, err
	}

	resolved, err := app.Resolver.Resolve(ctx, username, app.Config.fallbackIssuer())
	if err != nil {
		return nil, err
	}
	ttl := app.Config.IssuerCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := app.Store.Set(ctx, key, resolved, ttl); err != nil {
		app.logger().Warn("failed to cache openid configuration", "username", username, "err", err)
	}
	return resolved, nil
}

// BuildAuthorizeRequest resolves the user's issuer and creates a new authorization request, persisting it (and its PKCE verifier) for the callback.
//
// When opts.Username is empty and a UI is configured, the UI is opened to ask for one. Otherwise the fallback issuer is used without a login hint.
func (app *ClientApp) BuildAuthorizeRequest(ctx context.Context, opts LoginOptions) (*AuthorizeRequest, error) {
	submit := func(ctx context.Context, username string) (*AuthorizeRequest, error) {
		return app.buildAuthorizeRequest(ctx, opts, username)
	}
	if opts.Username != "" || app.UI == nil {
		return submit(ctx, opts.Username)
	}

	def, err := app.DefaultUsername(ctx)
	if err != nil {
		return nil, err
	}
	return app.UI.Open(ctx, UIOptions{
		DefaultValue: def,
		Submit:       submit,
	})
}

func (app *ClientApp) buildAuthorizeRequest(ctx context.Context, opts LoginOptions, username string) (*AuthorizeRequest, error) {
	username = normalizeUsername(username)
	config, err := app.OpenIDConfiguration(ctx, username)
	if err != nil {
		return nil, err
	}

	verifier, challenge, err := CreateCodeChallengeAndVerifier(VerifierLength, ChallengeMethodS256)
	if err != nil {
		return nil, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	state, err := EncodeState(opts.State)
	if err != nil {
		return nil, err
	}

	cfg := app.Config
	maxAge := cfg.MaxAge
	if opts.MaxAge != 0 {
		maxAge = opts.MaxAge
	}
	req := &AuthorizeRequest{
		URL:                 config.AuthorizationEndpoint,
		ClientID:            firstNonEmpty(opts.ClientID, cfg.ClientID),
		ClientAuthMethod:    cfg.AuthMethod(),
		CodeChallenge:       challenge,
		CodeChallengeMethod: ChallengeMethodS256,
		Nonce:               nonce,
		State:               state,
		LoginHint:           username,
		MaxAge:              int(maxAge / time.Second),
		Prompt:              firstNonEmpty(opts.Prompt, cfg.Prompt),
		Resource:            firstNonEmpty(opts.Resource, cfg.Resource),
		RedirectURI:         firstNonEmpty(opts.RedirectURI, cfg.RedirectURI),
		ResponseMode:        firstNonEmpty(opts.ResponseMode, cfg.ResponseMode, ResponseModeFragment),
		ResponseType:        "code",
		Scope:               CanonicalizeScope(firstNonEmpty(opts.Scope, cfg.Scope, DefaultScope)),
	}
	if app.Versions != nil {
		req.PackageName, req.PackageVersion = app.Versions.Primary()
	}

	if err := app.storeAuthorizeRequest(ctx, req, verifier); err != nil {
		return nil, err
	}
	app.logger().Debug("built authorize request", "username", username, "issuer", config.Issuer, "responseMode", req.ResponseMode)
	return req, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Login builds an authorization request and returns the URL to send the user agent to. If set, opts.BeforeRedirect is called with the URL first.
func (app *ClientApp) Login(ctx context.Context, opts LoginOptions) (string, error) {
	if app.UI != nil {
		defer app.UI.Close()
	}
	req, err := app.BuildAuthorizeRequest(ctx, opts)
	if err != nil {
		return "", err
	}
	u, err := BuildAuthorizeURL(req)
	if err != nil {
		return "", err
	}
	if opts.BeforeRedirect != nil {
		if err := opts.BeforeRedirect(ctx, u); err != nil {
			return "", err
		}
	}
	return u, nil
}

// LoginWithPopup runs a complete login through a popup window, without leaving the current page. The response mode is always `fragment`.
func (app *ClientApp) LoginWithPopup(ctx context.Context, opts LoginOptions, popup PopupConfig) (*Authorization, error) {
	if app.UI != nil {
		defer app.UI.Close()
	}
	opts.ResponseMode = ResponseModeFragment
	req, err := app.BuildAuthorizeRequest(ctx, opts)
	if err != nil {
		return nil, err
	}
	// the popup flow does not go through LoginCallback
	if _, err := app.Store.Delete(ctx, keyRequest); err != nil {
		return nil, err
	}

	resp, err := app.AuthorizeWithPopup(ctx, req, popup)
	if err != nil {
		if _, derr := app.Store.Delete(ctx, verifierKey(req.CodeChallenge)); derr != nil {
			app.logger().Warn("failed to delete verifier", "err", derr)
		}
		logins.WithLabelValues("popup", "error").Inc()
		return nil, err
	}
	auth, err := app.VerifyAuthorizeResponse(ctx, req, resp)
	if err != nil {
		logins.WithLabelValues("popup", "error").Inc()
		return nil, err
	}
	logins.WithLabelValues("popup", "success").Inc()
	return auth, nil
}

// LoginCallback completes a redirect login. The pending request is consumed whether or not the callback succeeds.
func (app *ClientApp) LoginCallback(ctx context.Context, opts CallbackOptions) (*LoginCallbackResponse, error) {
	req, err := app.takeAuthorizeRequest(ctx)
	if err != nil {
		return nil, err
	}

	var resp *AuthorizeResponse
	switch req.ResponseMode {
	case ResponseModeFragment, ResponseModeQuery:
		resp, err = ParseAuthorizeResponse(opts.URL, req.ResponseMode)
	case ResponseModeFormPost:
		if opts.Form == nil {
			err = fmt.Errorf("%w: form_post callback without form parameters", ErrInvalidConfig)
		} else {
			resp, err = authorizeResponseFromValues(opts.Form)
		}
	default:
		err = fmt.Errorf("%w: unsupported response mode: %s", ErrInvalidConfig, req.ResponseMode)
	}
	if err != nil {
		if _, derr := app.Store.Delete(ctx, verifierKey(req.CodeChallenge)); derr != nil {
			app.logger().Warn("failed to delete verifier", "err", derr)
		}
		logins.WithLabelValues("redirect", "error").Inc()
		return nil, err
	}

	auth, err := app.VerifyAuthorizeResponse(ctx, req, resp)
	if err != nil {
		logins.WithLabelValues("redirect", "error").Inc()
		return nil, err
	}
	state, err := DecodeState(req.State)
	if err != nil {
		return nil, err
	}
	logins.WithLabelValues("redirect", "success").Inc()
	return &LoginCallbackResponse{
		Authorization: auth,
		State:         state,
	}, nil
}

// VerifyAuthorizeResponse checks an authorization response against its request, exchanges the code for tokens, verifies the ID token, and stores the resulting authorization.
func (app *ClientApp) VerifyAuthorizeResponse(ctx context.Context, req *AuthorizeRequest, resp *AuthorizeResponse) (*Authorization, error) {
	verifier, err := app.takeVerifier(ctx, req.CodeChallenge)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(resp.State), []byte(req.State)) != 1 {
		return nil, ErrStateMismatch
	}
	if resp.Code == "" {
		return nil, fmt.Errorf("authorization response missing code")
	}

	config, err := app.OpenIDConfiguration(ctx, req.LoginHint)
	if err != nil {
		return nil, err
	}

	secret := req.ClientSecret
	if secret == "" {
		secret = app.Config.ClientSecret
	}
	tokenResp, err := app.requestToken(ctx, config.TokenEndpoint, TokenRequest{
		ClientID:     req.ClientID,
		GrantType:    "authorization_code",
		Code:         resp.Code,
		CodeVerifier: verifier,
		RedirectURI:  req.RedirectURI,
	}, req.ClientAuthMethod, secret)
	if err != nil {
		return nil, err
	}

	idTok, err := app.Verifier.Verify(ctx, config.JWKSURI, tokenResp.IDToken, req.Nonce, req.ClientID)
	if err != nil {
		app.logger().Warn("ID token verification failed", "authServer", config.Issuer, "err", err)
		return nil, err
	}

	auth := &Authorization{
		AccessToken: tokenResp.AccessToken,
		ExpiresAt:   app.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second).UnixMilli(),
		IDToken:     idTok,
		Scope:       CanonicalizeScope(req.Scope),
		Resource:    req.Resource,
	}
	if err := app.storeAuthorization(ctx, auth, req.ClientID); err != nil {
		return nil, err
	}
	app.logger().Info("login complete", "sub", auth.Subject(), "authServer", config.Issuer)
	return auth, nil
}

// Authorization returns a cached, unexpired authorization.
func (app *ClientApp) Authorization(ctx context.Context, opts AuthorizationOptions) (*Authorization, error) {
	return app.getAuthorization(ctx, opts)
}

// User returns `sub` plus requested claims for the logged-in user, either from the cached ID token or the issuer's userinfo endpoint (see [ClientConfig.UserInfoFromClaims]).
func (app *ClientApp) User(ctx context.Context, opts UserOptions) (UserInfo, error) {
	auth, err := app.Authorization(ctx, opts.AuthorizationOptions)
	if err != nil {
		return nil, err
	}

	source := map[string]any(auth.IDToken.Claims)
	if !app.Config.UserInfoFromClaims {
		config, err := app.OpenIDConfiguration(ctx, auth.Subject())
		if err != nil {
			return nil, err
		}
		if config.UserInfoEndpoint == "" {
			return nil, fmt.Errorf("%w: issuer has no userinfo_endpoint", discovery.ErrInvalidConfig)
		}
		source, err = fetchUserInfo(ctx, app.Client, app.logger(), config.UserInfoEndpoint, auth.AccessToken)
		if err != nil {
			return nil, err
		}
	}

	claims := opts.Claims
	if len(claims) == 0 {
		claims = DefaultUserClaims
	}
	info := UserInfo{"sub": auth.Subject()}
	for _, c := range claims {
		v, ok := source[c]
		if !ok || v == nil || v == "" {
			continue
		}
		info[c] = v
	}
	return info, nil
}

// BuildLogoutRequest creates and persists an RP-initiated logout request for a cached authorization.
func (app *ClientApp) BuildLogoutRequest(ctx context.Context, opts LogoutOptions) (*LogoutRequest, error) {
	auth, err := app.Authorization(ctx, opts.AuthorizationOptions)
	if err != nil {
		return nil, err
	}
	config, err := app.OpenIDConfiguration(ctx, auth.Subject())
	if err != nil {
		return nil, err
	}
	if config.EndSessionEndpoint == "" {
		return nil, fmt.Errorf("%w: issuer has no end_session_endpoint", ErrInvalidConfig)
	}
	redirect := firstNonEmpty(opts.PostLogoutRedirectURI, app.Config.PostLogoutRedirectURI)
	if redirect == "" {
		return nil, fmt.Errorf("%w: no post-logout redirect URI", ErrInvalidConfig)
	}
	state, err := EncodeState(opts.State)
	if err != nil {
		return nil, err
	}

	req := &LogoutRequest{
		URL:                   config.EndSessionEndpoint,
		ClientID:              firstNonEmpty(opts.ClientID, app.Config.ClientID),
		IDTokenHint:           auth.IDToken.Raw,
		PostLogoutRedirectURI: redirect,
		State:                 state,
	}
	if err := app.Store.Set(ctx, keyLogoutRequest, req, requestTTL); err != nil {
		return nil, fmt.Errorf("storing logout request: %w", err)
	}
	return req, nil
}

// Logout removes a cached authorization. With RP-initiated logout it also returns the issuer's end-session URL to send the user agent to; otherwise it returns "".
func (app *ClientApp) Logout(ctx context.Context, opts LogoutOptions) (string, error) {
	rpInitiated := app.Config.RPInitiatedLogout
	if opts.RPInitiatedLogout != nil {
		rpInitiated = *opts.RPInitiatedLogout
	}
	if !rpInitiated {
		_, err := app.deleteAuthorization(ctx, opts.AuthorizationOptions)
		return "", err
	}

	req, err := app.BuildLogoutRequest(ctx, opts)
	if err != nil {
		return "", err
	}
	u, err := BuildLogoutURL(req)
	if err != nil {
		return "", err
	}
	if opts.BeforeRedirect != nil {
		if err := opts.BeforeRedirect(ctx, u); err != nil {
			return "", err
		}
	}
	if _, err := app.deleteAuthorization(ctx, opts.AuthorizationOptions); err != nil {
		return "", err
	}
	return u, nil
}

// LogoutCallback completes an RP-initiated logout, returning the state payload given to [ClientApp.Logout].
func (app *ClientApp) LogoutCallback(ctx context.Context, rawURL string) (json.RawMessage, error) {
	req, err := app.takeLogoutRequest(ctx)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid callback URL: %w", err)
	}
	vals := u.Query()
	if apiErr := apiErrorFromValues(vals); apiErr != nil {
		return nil, apiErr
	}
	if subtle.ConstantTimeCompare([]byte(vals.Get("state")), []byte(req.State)) != 1 {
		return nil, ErrStateMismatch
	}
	return DecodeState(req.State)
}
