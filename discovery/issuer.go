package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/uauth/uauth-go/util/ssrf"
)

// Resolves a username (a domain, or `user@domain`) to the OpenID Provider configuration of its issuer. When the domain has no webfinger record, fallbackIssuer is used.
type IssuerResolver interface {
	Resolve(ctx context.Context, username, fallbackIssuer string) (*ProviderConfig, error)
}

type DefaultIssuerResolver struct {
	WebFinger WebFingerResolver

	// Used to fetch the configuration document itself
	Client *http.Client
	Logger *slog.Logger
}

var _ IssuerResolver = (*DefaultIssuerResolver)(nil)

// Builds the full default resolution stack on top of a [DomainResolver].
func NewIssuerResolver(domains DomainResolver) *DefaultIssuerResolver {
	return &DefaultIssuerResolver{
		WebFinger: NewRecordWebFingerResolver(domains),
		Client:    ssrf.PublicOnlyClient(10 * time.Second),
		Logger:    slog.Default().With("component", "discovery"),
	}
}

// SplitUsername separates an optional user part from the domain. Without an "@" the whole string is the domain.
func SplitUsername(username string) (user, domain string) {
	idx := strings.LastIndex(username, "@")
	if idx < 0 {
		return "", username
	}
	return username[:idx], username[idx+1:]
}

// ConfigurationURL is where an issuer publishes its OpenID configuration.
func ConfigurationURL(issuer string) string {
	return strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"
}

// FetchProviderConfig fetches and validates an issuer's OpenID configuration.
func FetchProviderConfig(ctx context.Context, client *http.Client, logger *slog.Logger, issuer string) (*ProviderConfig, error) {
	var config ProviderConfig
	if err := fetchJSON(ctx, client, logger, ConfigurationURL(issuer), &config); err != nil {
		return nil, fmt.Errorf("bad openid-configuration response: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (r *DefaultIssuerResolver) Resolve(ctx context.Context, username, fallbackIssuer string) (*ProviderConfig, error) {
	start := time.Now()
	config, err := r.resolve(ctx, username, fallbackIssuer)
	status := "success"
	if err != nil {
		status = "error"
	}
	issuerResolution.WithLabelValues("default", status).Inc()
	issuerResolutionDuration.WithLabelValues("default", status).Observe(time.Since(start).Seconds())
	return config, err
}

func (r *DefaultIssuerResolver) resolve(ctx context.Context, username, fallbackIssuer string) (*ProviderConfig, error) {
	user, domain := SplitUsername(username)
	if domain == "" {
		return nil, fmt.Errorf("can not resolve empty domain")
	}

	jrd, err := r.WebFinger.Resolve(ctx, domain, user, IssuerRel, fallbackIssuer)
	if err != nil {
		return nil, err
	}

	link := jrd.Link(IssuerRel)
	if link == nil || link.Href == "" {
		return nil, fmt.Errorf("%w: no issuer link", ErrInvalidJRD)
	}

	r.Logger.Debug("resolved issuer", "username", username, "issuer", link.Href)
	return FetchProviderConfig(ctx, r.Client, r.Logger, link.Href)
}
