package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// Link relation for OpenID Connect issuer discovery.
const IssuerRel = "http://openid.net/specs/connect/1.0/issuer"

// Issuer used when a domain has no webfinger record configured.
const DefaultFallbackIssuer = "https://auth.unstoppabledomains.com"

var (
	ErrMalformedRecord   = errors.New("malformed webfinger record")
	ErrUnsupportedScheme = errors.New("uri scheme not supported")
	ErrInvalidJRD        = errors.New("resolved document is not a valid JRD")
	ErrResourceMismatch  = errors.New("webfinger subject does not match requested resource")
	ErrInvalidConfig     = errors.New("invalid openid configuration")
)

type Link struct {
	Rel        string             `json:"rel"`
	Href       string             `json:"href,omitempty"`
	Type       string             `json:"type,omitempty"`
	Titles     map[string]string  `json:"titles,omitempty"`
	Properties map[string]*string `json:"properties,omitempty"`
}

// WebFinger JSON Resource Descriptor (RFC 7033)
type JRD struct {
	Subject    string             `json:"subject"`
	Aliases    []string           `json:"aliases,omitempty"`
	Properties map[string]*string `json:"properties,omitempty"`
	Links      []Link             `json:"links"`
}

// Valid checks the minimal shape: a subject and a links array.
func (d *JRD) Valid() bool {
	return d.Subject != "" && d.Links != nil
}

// Link returns the first link with the given relation, or nil.
func (d *JRD) Link(rel string) *Link {
	for i := range d.Links {
		if d.Links[i].Rel == rel {
			return &d.Links[i]
		}
	}
	return nil
}

// The record stored on-chain under `webfinger.<user>.<rel>`. Exactly one field must be set.
type WebFingerRecord struct {
	// WebFinger host to query at `/.well-known/webfinger`
	Host *string `json:"host,omitempty"`

	// http(s) or ipfs URI of a JRD document
	URI *string `json:"uri,omitempty"`

	// inline JRD document, as a JSON string
	Value *string `json:"value,omitempty"`
}

func ParseWebFingerRecord(raw string) (*WebFingerRecord, error) {
	var rec WebFingerRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	n := 0
	for _, f := range []*string{rec.Host, rec.URI, rec.Value} {
		if f != nil {
			n++
		}
	}
	if n != 1 {
		return nil, fmt.Errorf("%w: exactly one of host, uri, or value required", ErrMalformedRecord)
	}
	return &rec, nil
}

// OpenID Provider metadata, as served at `/.well-known/openid-configuration`.
type ProviderConfig struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`

	UserInfoEndpoint   string `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint string `json:"end_session_endpoint,omitempty"`
	JWKSURI            string `json:"jwks_uri,omitempty"`

	// Some providers embed their key set directly
	JWKS json.RawMessage `json:"jwks,omitempty"`

	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	ResponseModesSupported            []string `json:"response_modes_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	ClaimsSupported                   []string `json:"claims_supported,omitempty"`
}

// Validate checks that the endpoints needed for an authorization code flow are present and are absolute URLs.
func (c *ProviderConfig) Validate() error {
	if c.AuthorizationEndpoint == "" {
		return fmt.Errorf("%w: missing authorization_endpoint", ErrInvalidConfig)
	}
	if c.TokenEndpoint == "" {
		return fmt.Errorf("%w: missing token_endpoint", ErrInvalidConfig)
	}
	for _, raw := range []string{c.AuthorizationEndpoint, c.TokenEndpoint, c.UserInfoEndpoint, c.EndSessionEndpoint, c.JWKSURI} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: endpoint is not an absolute URL: %s", ErrInvalidConfig, raw)
		}
	}
	return nil
}
