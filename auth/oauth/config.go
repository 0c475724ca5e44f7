package oauth

import (
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/uauth/uauth-go/discovery"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	AuthMethodNone        = "none"
	AuthMethodSecretPost  = "client_secret_post"
	AuthMethodSecretBasic = "client_secret_basic"

	ResponseModeFragment = "fragment"
	ResponseModeQuery    = "query"
	ResponseModeFormPost = "form_post"

	DefaultScope = "openid"
)

type ClientConfig struct {
	ClientID string

	// Only set for confidential clients. Never placed on authorization URLs or persisted with requests.
	ClientSecret     string
	ClientAuthMethod string

	RedirectURI string

	// Space-separated scopes requested by default
	Scope        string
	ResponseMode string
	MaxAge       time.Duration
	Prompt       string

	// Optional audience (resource indicator) for issued access tokens
	Resource string

	// Issuer used for domains without a webfinger record
	FallbackIssuer string

	PostLogoutRedirectURI string

	// Redirect the user agent to the issuer's end-session endpoint on logout. Otherwise logout only clears local state.
	RPInitiatedLogout bool

	// Whether resolved OpenID configurations are cached in the credential store, and for how long
	CacheIssuer    bool
	IssuerCacheTTL time.Duration

	// When true, [ClientApp.User] answers from cached ID token claims instead of calling the userinfo endpoint
	UserInfoFromClaims bool

	PopupTimeout      time.Duration
	PopupPollInterval time.Duration

	// Local key set used to verify ID tokens instead of the issuer's jwks_uri
	JWKS jwk.Set

	// Builds IPFS gateway URLs for `ipfs:` webfinger records; nil means the default gateway
	IPFSGateway func(cid, path string) string
}

// Creates a public client configuration with default settings.
func NewClientConfig(clientID, redirectURI string) ClientConfig {
	return ClientConfig{
		ClientID:           clientID,
		ClientAuthMethod:   AuthMethodNone,
		RedirectURI:        redirectURI,
		Scope:              DefaultScope,
		ResponseMode:       ResponseModeFragment,
		MaxAge:             600 * time.Second,
		Prompt:             "login",
		FallbackIssuer:     discovery.DefaultFallbackIssuer,
		IssuerCacheTTL:     time.Hour,
		UserInfoFromClaims: true,
		PopupTimeout:       5 * time.Minute,
		PopupPollInterval:  10 * time.Millisecond,
	}
}

// SetClientSecret turns this in to a confidential client. An empty method selects `client_secret_post`.
func (c *ClientConfig) SetClientSecret(secret, method string) error {
	if method == "" {
		method = AuthMethodSecretPost
	}
	if method != AuthMethodSecretPost && method != AuthMethodSecretBasic {
		return fmt.Errorf("%w: unsupported client auth method for secret: %s", ErrInvalidConfig, method)
	}
	if secret == "" {
		return fmt.Errorf("%w: empty client secret", ErrInvalidConfig)
	}
	c.ClientSecret = secret
	c.ClientAuthMethod = method
	return nil
}

// SetPostLogoutRedirect configures a post-logout redirect, which also enables RP-initiated logout.
func (c *ClientConfig) SetPostLogoutRedirect(uri string) {
	c.PostLogoutRedirectURI = uri
	c.RPInitiatedLogout = uri != ""
}

func (c *ClientConfig) IsConfidential() bool {
	return c.ClientSecret != "" && c.AuthMethod() != AuthMethodNone
}

// AuthMethod returns the token endpoint auth method in effect. An unset method defaults to client_secret_post when a secret is present, and none otherwise.
func (c *ClientConfig) AuthMethod() string {
	return resolveAuthMethod(c.ClientAuthMethod, c.ClientSecret)
}

func resolveAuthMethod(method, secret string) string {
	if method != "" {
		return method
	}
	if secret != "" {
		return AuthMethodSecretPost
	}
	return AuthMethodNone
}

func (c *ClientConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: client_id is required", ErrInvalidConfig)
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("%w: redirect_uri is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.RedirectURI)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: redirect_uri must be an absolute URL", ErrInvalidConfig)
	}
	switch method := c.AuthMethod(); method {
	case AuthMethodNone:
	case AuthMethodSecretPost, AuthMethodSecretBasic:
		if c.ClientSecret == "" {
			return fmt.Errorf("%w: %s requires a client secret", ErrInvalidConfig, method)
		}
	default:
		return fmt.Errorf("%w: unsupported client auth method: %s", ErrInvalidConfig, method)
	}
	if c.ResponseMode != "" && !slices.Contains([]string{ResponseModeFragment, ResponseModeQuery, ResponseModeFormPost}, c.ResponseMode) {
		return fmt.Errorf("%w: unsupported response mode: %s", ErrInvalidConfig, c.ResponseMode)
	}
	if c.RPInitiatedLogout && c.PostLogoutRedirectURI == "" {
		return fmt.Errorf("%w: RP-initiated logout requires a post-logout redirect URI", ErrInvalidConfig)
	}
	return nil
}

func (c *ClientConfig) fallbackIssuer() string {
	if c.FallbackIssuer == "" {
		return discovery.DefaultFallbackIssuer
	}
	return c.FallbackIssuer
}
