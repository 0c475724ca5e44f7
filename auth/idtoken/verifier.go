package idtoken

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

var DefaultValidMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "PS256"}

const maxJWKSSize = 1 << 20

type Verifier struct {
	Client *http.Client

	// When set, keys are only looked up here and the remote JWKS is never fetched
	LocalJWKS jwk.Set

	CacheTTL     time.Duration
	Leeway       time.Duration
	ValidMethods []string
	Logger       *slog.Logger

	// Override clock, for tests
	Now func() time.Time

	initOnce sync.Once
	keysets  *expirable.LRU[string, jwk.Set]
}

func NewVerifier(client *http.Client) *Verifier {
	return &Verifier{
		Client:       client,
		CacheTTL:     time.Hour,
		Leeway:       60 * time.Second,
		ValidMethods: DefaultValidMethods,
		Logger:       slog.Default().With("component", "idtoken"),
	}
}

func (v *Verifier) cache() *expirable.LRU[string, jwk.Set] {
	v.initOnce.Do(func() {
		v.keysets = expirable.NewLRU[string, jwk.Set](64, nil, v.CacheTTL)
	})
	return v.keysets
}

// Purge drops any cached key set for the URI.
func (v *Verifier) Purge(jwksURI string) {
	v.cache().Remove(jwksURI)
}

func (v *Verifier) fetchKeySet(ctx context.Context, jwksURI string) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJWKSFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJWKSFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.logger().Warn("JWKS fetch failed", "url", jwksURI, "statusCode", resp.StatusCode)
		return nil, fmt.Errorf("%w: HTTP %d", ErrJWKSFetch, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJWKSFetch, err)
	}
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJWKSFetch, err)
	}
	return set, nil
}

func (v *Verifier) keySet(ctx context.Context, jwksURI string, refresh bool) (jwk.Set, error) {
	if v.LocalJWKS != nil {
		return v.LocalJWKS, nil
	}
	if jwksURI == "" {
		return nil, fmt.Errorf("%w: no jwks_uri", ErrJWKSFetch)
	}
	if !refresh {
		if set, ok := v.cache().Get(jwksURI); ok {
			return set, nil
		}
	}
	set, err := v.fetchKeySet(ctx, jwksURI)
	if err != nil {
		return nil, err
	}
	v.cache().Add(jwksURI, set)
	return set, nil
}

func findKey(set jwk.Set, kid string) (jwk.Key, bool) {
	if kid != "" {
		return set.LookupKeyID(kid)
	}
	// without a key ID, only an unambiguous set is usable
	if set.Len() == 1 {
		return set.Key(0)
	}
	return nil, false
}

func (v *Verifier) keyFunc(ctx context.Context, jwksURI string) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)

		set, err := v.keySet(ctx, jwksURI, false)
		if err != nil {
			return nil, err
		}
		key, ok := findKey(set, kid)
		if !ok && v.LocalJWKS == nil {
			// the provider may have rotated keys since we cached the set
			v.logger().Info("refetching JWKS for unknown key", "url", jwksURI, "kid", kid)
			set, err = v.keySet(ctx, jwksURI, true)
			if err != nil {
				return nil, err
			}
			key, ok = findKey(set, kid)
		}
		if !ok {
			return nil, fmt.Errorf("%w: kid=%q", ErrKeyNotFound, kid)
		}

		var raw any
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyNotFound, err)
		}
		return raw, nil
	}
}

func (v *Verifier) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}

// Verify checks the signature of rawToken against the issuer's key set, the registered claims (expiry, issued-at, and audience when non-empty), and that the nonce claim equals nonce when non-empty.
func (v *Verifier) Verify(ctx context.Context, jwksURI, rawToken, nonce, audience string) (*IDToken, error) {
	methods := v.ValidMethods
	if len(methods) == 0 {
		methods = DefaultValidMethods
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.Leeway),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	if v.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.Now))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, v.keyFunc(ctx, jwksURI), opts...)
	if err != nil {
		switch {
		case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrJWKSFetch):
			return nil, err
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, fmt.Errorf("%w: %w", ErrAudienceMismatch, err)
		}
		return nil, fmt.Errorf("invalid ID token: %w", err)
	}

	tok := &IDToken{Claims: claims, Raw: rawToken}
	if nonce != "" && tok.Nonce() != nonce {
		return nil, ErrNonceMismatch
	}
	return tok, nil
}
