package oauth

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/uauth/uauth-go/auth/idtoken"
)

// Parameters of an authorization request. The same struct is persisted (JSON) while the user is at the authorization server, and serialized (URL query) on to the authorization URL.
type AuthorizeRequest struct {
	// Authorization endpoint
	URL string `json:"url" url:"-"`

	ClientID string `json:"client_id" url:"client_id"`

	// Not persisted with the request, and never sent on the authorization URL
	ClientSecret     string `json:"-" url:"-"`
	ClientAuthMethod string `json:"client_auth_method,omitempty" url:"-"`

	// PKCE challenge derived from the stored verifier
	CodeChallenge       string `json:"code_challenge" url:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method" url:"code_challenge_method"`

	Nonce string `json:"nonce" url:"nonce"`
	State string `json:"state" url:"state"`

	// Domain name (username) the user is logging in as, if known
	LoginHint string `json:"login_hint,omitempty" url:"login_hint,omitempty"`

	// Maximum authentication age, in seconds
	MaxAge int    `json:"max_age,omitempty" url:"max_age,omitempty"`
	Prompt string `json:"prompt,omitempty" url:"prompt,omitempty"`

	Resource     string `json:"resource,omitempty" url:"resource,omitempty"`
	RedirectURI  string `json:"redirect_uri" url:"redirect_uri"`
	ResponseMode string `json:"response_mode" url:"response_mode"`

	// Always "code"
	ResponseType string `json:"response_type" url:"response_type"`

	// Canonicalized, space-separated
	Scope string `json:"scope" url:"scope"`

	PackageName    string `json:"package_name,omitempty" url:"package_name,omitempty"`
	PackageVersion string `json:"package_version,omitempty" url:"package_version,omitempty"`
}

// Successful authorization response parameters.
type AuthorizeResponse struct {
	Code  string
	State string
}

// Form-encoded body of an authorization_code token request.
type TokenRequest struct {
	ClientID     string `url:"client_id"`
	ClientSecret string `url:"client_secret,omitempty"`
	GrantType    string `url:"grant_type"`
	Code         string `url:"code"`
	CodeVerifier string `url:"code_verifier"`
	RedirectURI  string `url:"redirect_uri"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	IDToken      string `json:"id_token"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// RP-initiated logout request, persisted while the user agent visits the end-session endpoint.
type LogoutRequest struct {
	URL                   string `json:"url" url:"-"`
	ClientID              string `json:"client_id" url:"client_id"`
	IDTokenHint           string `json:"id_token_hint" url:"id_token_hint"`
	PostLogoutRedirectURI string `json:"post_logout_redirect_uri" url:"post_logout_redirect_uri"`
	State                 string `json:"state" url:"state"`
}

// Result of a successful login: an access token plus the verified ID token.
type Authorization struct {
	AccessToken string `json:"accessToken"`

	// Unix milliseconds
	ExpiresAt int64            `json:"expiresAt"`
	IDToken   *idtoken.IDToken `json:"idToken"`

	// Canonicalized, space-separated
	Scope    string `json:"scope"`
	Resource string `json:"resource,omitempty"`
}

// Expired reports whether the authorization has passed its expiry time.
func (a *Authorization) Expired(now time.Time) bool {
	return a.ExpiresAt < now.UnixMilli()
}

// Subject is the domain name (username) the authorization was issued for.
func (a *Authorization) Subject() string {
	if a.IDToken == nil {
		return ""
	}
	return a.IDToken.Subject()
}

// Claims about the logged-in user. Always contains `sub`.
type UserInfo map[string]any

func (u UserInfo) Subject() string {
	s, _ := u["sub"].(string)
	return s
}

// WalletAddress returns the `wallet_address` claim, if present.
func (u UserInfo) WalletAddress() string {
	s, _ := u["wallet_address"].(string)
	return s
}

// WalletTypeHint returns the `wallet_type_hint` claim, if present.
func (u UserInfo) WalletTypeHint() string {
	s, _ := u["wallet_type_hint"].(string)
	return s
}

// Per-call overrides of [ClientConfig] login settings. Zero values fall back to the configuration.
type LoginOptions struct {
	Username     string
	ClientID     string
	RedirectURI  string
	Scope        string
	ResponseMode string
	MaxAge       time.Duration
	Prompt       string
	Resource     string

	// Arbitrary JSON-encodable value round-tripped through the `state` parameter
	State any

	// Called with the authorization URL before it is returned to the caller
	BeforeRedirect func(ctx context.Context, url string) error
}

type CallbackOptions struct {
	// Full URL the authorization server redirected to
	URL string

	// POST form parameters, for the `form_post` response mode
	Form url.Values
}

type LoginCallbackResponse struct {
	Authorization *Authorization

	// The state value passed in [LoginOptions], as JSON. Nil if none was given.
	State json.RawMessage
}

// Selects a cached authorization. Empty fields fall back to the `username` pointer and the client configuration.
type AuthorizationOptions struct {
	Username string
	ClientID string
	Scope    string
	Resource string
}

type UserOptions struct {
	AuthorizationOptions

	// Claims to return in addition to `sub`; empty means [DefaultUserClaims]
	Claims []string
}

type LogoutOptions struct {
	AuthorizationOptions

	PostLogoutRedirectURI string

	// Overrides [ClientConfig.RPInitiatedLogout] when non-nil
	RPInitiatedLogout *bool

	State any

	BeforeRedirect func(ctx context.Context, url string) error
}

// Standard OIDC claims plus wallet claims, returned by [ClientApp.User] by default.
var DefaultUserClaims = []string{
	"name",
	"given_name",
	"family_name",
	"middle_name",
	"nickname",
	"preferred_username",
	"profile",
	"picture",
	"website",
	"email",
	"email_verified",
	"gender",
	"birthdate",
	"zoneinfo",
	"locale",
	"phone_number",
	"phone_number_verified",
	"address",
	"updated_at",
	"wallet_address",
	"wallet_type_hint",
}

// Interaction UI: prompts the user for a domain name, then submits it.
type UI interface {
	// Open blocks until the user submits a username (and Submit succeeds), or ctx is done.
	Open(ctx context.Context, opts UIOptions) (*AuthorizeRequest, error)
	Close()
}

type UIOptions struct {
	// Prefilled username, usually the last one used
	DefaultValue string

	Submit func(ctx context.Context, username string) (*AuthorizeRequest, error)
}
