package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/uauth/uauth-go/credstore"
)

// Credential store keys and lifetimes
const (
	keyRequest         = "request"
	keyLogoutRequest   = "logout-request"
	keyUsername        = "username"
	keyDefaultUsername = "default-username"

	requestTTL = 5 * time.Minute
)

func verifierKey(challenge string) string {
	return "verifier:" + challenge
}

func openIDConfigurationKey(username string) string {
	return "openidConfiguration:" + username
}

// AuthorizationKey is the credential store key for an authorization. The scope is canonicalized and an empty resource is omitted, so equivalent selections map to the same key.
func AuthorizationKey(clientID, resource, scope, username string) string {
	v := url.Values{}
	v.Set("clientID", clientID)
	if resource != "" {
		v.Set("resource", resource)
	}
	v.Set("scope", CanonicalizeScope(scope))
	v.Set("username", username)
	return "authorization?" + v.Encode()
}

func (app *ClientApp) now() time.Time {
	if app.Store != nil && app.Store.Now != nil {
		return app.Store.Now()
	}
	return time.Now()
}

func (app *ClientApp) storeAuthorizeRequest(ctx context.Context, req *AuthorizeRequest, verifier string) error {
	if err := app.Store.Set(ctx, keyRequest, req, requestTTL); err != nil {
		return fmt.Errorf("storing authorize request: %w", err)
	}
	if err := app.Store.Set(ctx, verifierKey(req.CodeChallenge), verifier, requestTTL); err != nil {
		return fmt.Errorf("storing PKCE verifier: %w", err)
	}
	return nil
}

func (app *ClientApp) takeAuthorizeRequest(ctx context.Context) (*AuthorizeRequest, error) {
	var req AuthorizeRequest
	if err := app.Store.Take(ctx, keyRequest, &req); err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return nil, ErrNoPendingRequest
		}
		return nil, err
	}
	return &req, nil
}

func (app *ClientApp) takeVerifier(ctx context.Context, challenge string) (string, error) {
	var verifier string
	if err := app.Store.Take(ctx, verifierKey(challenge), &verifier); err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return "", ErrVerifierNotFound
		}
		return "", err
	}
	return verifier, nil
}

func (app *ClientApp) takeLogoutRequest(ctx context.Context) (*LogoutRequest, error) {
	var req LogoutRequest
	if err := app.Store.Take(ctx, keyLogoutRequest, &req); err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return nil, ErrNoPendingLogout
		}
		return nil, err
	}
	return &req, nil
}

// readString returns "" when the key is absent or expired.
func (app *ClientApp) readString(ctx context.Context, key string) (string, error) {
	var s string
	err := app.Store.Get(ctx, key, &s)
	if errors.Is(err, credstore.ErrNotFound) {
		return "", nil
	}
	return s, err
}

// DefaultUsername returns the last username which successfully logged in, or "". It is used to prefill interaction UIs.
func (app *ClientApp) DefaultUsername(ctx context.Context) (string, error) {
	return app.readString(ctx, keyDefaultUsername)
}

// Applies defaults to authorization selection options: the `username` pointer, then the client configuration.
func (app *ClientApp) resolveAuthorizationOptions(ctx context.Context, opts AuthorizationOptions) (AuthorizationOptions, error) {
	opts.Username = normalizeUsername(opts.Username)
	if opts.Username == "" {
		username, err := app.readString(ctx, keyUsername)
		if err != nil {
			return opts, err
		}
		if username == "" {
			return opts, ErrNoUsername
		}
		opts.Username = username
	}
	if opts.ClientID == "" {
		opts.ClientID = app.Config.ClientID
	}
	if opts.Scope == "" {
		opts.Scope = app.Config.Scope
	}
	if opts.Resource == "" {
		opts.Resource = app.Config.Resource
	}
	return opts, nil
}

func (app *ClientApp) storeAuthorization(ctx context.Context, auth *Authorization, clientID string) error {
	username := auth.Subject()
	ttl := time.UnixMilli(auth.ExpiresAt).Sub(app.now())
	if ttl <= 0 {
		// zero would mean "never expires"
		ttl = time.Millisecond
	}

	if err := app.Store.Set(ctx, keyDefaultUsername, username, 0); err != nil {
		return err
	}
	if err := app.Store.Set(ctx, keyUsername, username, ttl); err != nil {
		return err
	}
	key := AuthorizationKey(clientID, auth.Resource, auth.Scope, username)
	if err := app.Store.Set(ctx, key, auth, ttl); err != nil {
		return fmt.Errorf("storing authorization: %w", err)
	}
	return nil
}

func (app *ClientApp) getAuthorization(ctx context.Context, opts AuthorizationOptions) (*Authorization, error) {
	opts, err := app.resolveAuthorizationOptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	key := AuthorizationKey(opts.ClientID, opts.Resource, opts.Scope, opts.Username)

	var auth Authorization
	if err := app.Store.Get(ctx, key, &auth); err != nil {
		if errors.Is(err, credstore.ErrExpired) {
			return nil, ErrAuthorizationExpired
		}
		if errors.Is(err, credstore.ErrNotFound) {
			return nil, ErrAuthorizationNotFound
		}
		return nil, err
	}
	if auth.Expired(app.now()) {
		if _, err := app.Store.Delete(ctx, key); err != nil {
			app.logger().Warn("failed to delete expired authorization", "key", key, "err", err)
		}
		return nil, ErrAuthorizationExpired
	}
	return &auth, nil
}

func (app *ClientApp) deleteAuthorization(ctx context.Context, opts AuthorizationOptions) (bool, error) {
	current, err := app.readString(ctx, keyUsername)
	if err != nil {
		return false, err
	}
	opts, err = app.resolveAuthorizationOptions(ctx, opts)
	if err != nil {
		return false, err
	}
	if opts.Username == current {
		if _, err := app.Store.Delete(ctx, keyUsername); err != nil {
			return false, err
		}
	}
	return app.Store.Delete(ctx, AuthorizationKey(opts.ClientID, opts.Resource, opts.Scope, opts.Username))
}
