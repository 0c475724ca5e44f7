// Package resource authenticates requests to resource servers (APIs) which accept access tokens issued through domain logins.
//
// Clients send `Authorization: Unstoppable <domain> <access token>`. The validator resolves the domain's issuer, asks its userinfo endpoint about the token, and requires the token's subject to be that domain.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/uauth/uauth-go/auth/oauth"
	"github.com/uauth/uauth-go/discovery"
	"github.com/uauth/uauth-go/pkg/robusthttp"
)

// Authorization header scheme
const Scheme = "Unstoppable"

var (
	ErrMissingAuthorization = errors.New("no authorization present")
	ErrInvalidScheme        = errors.New(`invalid authorization scheme, should be "Unstoppable"`)
	ErrSubjectMismatch      = errors.New("token subject does not match domain")
)

// Authenticated caller of a resource server.
type Principal struct {
	Domain      string
	AccessToken string
	UserInfo    oauth.UserInfo
}

type Validator struct {
	Resolver       discovery.IssuerResolver
	FallbackIssuer string

	// Used for userinfo requests. Endpoints come from third-party issuer configuration, so the default client only dials public addresses.
	Client *http.Client
	Logger *slog.Logger
}

// NewValidator builds a validator with a cached issuer resolver over domains.
func NewValidator(domains discovery.DomainResolver) *Validator {
	if domains == nil {
		domains = discovery.NewMemoryDomainResolver()
	}
	return &Validator{
		Resolver:       discovery.NewCacheIssuerResolver(discovery.NewIssuerResolver(domains), 10_000, 10*time.Minute, 30*time.Second),
		FallbackIssuer: discovery.DefaultFallbackIssuer,
		Client:         robusthttp.NewClient(robusthttp.WithPublicOnly(), robusthttp.WithTimeout(10*time.Second)),
		Logger:         slog.Default().With("component", "resource"),
	}
}

// ParseAuthorizationHeader splits an `Unstoppable <domain> <token>` header value.
func ParseAuthorizationHeader(hdr string) (string, string, error) {
	if hdr == "" {
		return "", "", ErrMissingAuthorization
	}
	parts := strings.Fields(hdr)
	if len(parts) != 3 || parts[0] != Scheme {
		return "", "", ErrInvalidScheme
	}
	return strings.ToLower(parts[1]), parts[2], nil
}

func (v *Validator) logger() *slog.Logger {
	if v.Logger == nil {
		return slog.Default()
	}
	return v.Logger
}

// Validate checks an access token presented for domain.
func (v *Validator) Validate(ctx context.Context, domain, accessToken string) (*Principal, error) {
	config, err := v.Resolver.Resolve(ctx, domain, v.FallbackIssuer)
	if err != nil {
		return nil, fmt.Errorf("resolving issuer for %s: %w", domain, err)
	}
	if config.UserInfoEndpoint == "" {
		return nil, fmt.Errorf("%w: issuer has no userinfo_endpoint", discovery.ErrInvalidConfig)
	}

	info, err := oauth.FetchUserInfo(ctx, v.Client, v.logger(), config.UserInfoEndpoint, accessToken)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(info.Subject(), domain) {
		v.logger().Warn("access token subject mismatch", "domain", domain, "sub", info.Subject(), "authServer", config.Issuer)
		return nil, ErrSubjectMismatch
	}
	return &Principal{
		Domain:      domain,
		AccessToken: accessToken,
		UserInfo:    info,
	}, nil
}

// ValidateRequest authenticates the Authorization header of an incoming request.
func (v *Validator) ValidateRequest(r *http.Request) (*Principal, error) {
	domain, token, err := ParseAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	return v.Validate(r.Context(), domain, token)
}

type principalCtxKey struct{}

// PrincipalFromContext returns the principal stored by [Validator.Middleware].
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(*Principal)
	return p, ok && p != nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HTTP middleware requiring a valid `Unstoppable` authorization.
//
// This can be used with `echo.WrapMiddleware` (part of the echo web framework)
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := v.ValidateRequest(r)
		if err != nil {
			v.logger().Debug("rejecting request", "path", r.URL.Path, "err", err)
			w.Header().Set("WWW-Authenticate", Scheme)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(errorBody{
				Error:   "Unauthorized",
				Message: err.Error(),
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalCtxKey{}, p)))
	})
}
