package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

// Pending server-side login, kept in the user's session between the redirect to the authorization server and the callback.
type Interaction struct {
	State         string `json:"state"`
	Nonce         string `json:"nonce"`
	Verifier      string `json:"verifier"`
	TokenEndpoint string `json:"tokenEndpoint"`
	JWKSURI       string `json:"jwksUri,omitempty"`
	Username      string `json:"username,omitempty"`
}

// Per-user session storage for [SessionLogin].
type InteractionStore interface {
	SaveInteraction(w http.ResponseWriter, r *http.Request, in *Interaction) error
	// Returns [ErrNoPendingRequest] when there is no interaction; the interaction is removed.
	TakeInteraction(w http.ResponseWriter, r *http.Request) (*Interaction, error)
	SaveAuthorization(w http.ResponseWriter, r *http.Request, auth *Authorization) error
	// Returns [ErrAuthorizationNotFound] when the session has no authorization.
	GetAuthorization(w http.ResponseWriter, r *http.Request) (*Authorization, error)
	DeleteAuthorization(w http.ResponseWriter, r *http.Request) error
}

const (
	sessionKeyInteraction   = "interaction"
	sessionKeyAuthorization = "authorization"
)

// [InteractionStore] backed by gorilla/sessions. Values are stored as JSON strings.
type CookieInteractionStore struct {
	Store sessions.Store

	// Session (cookie) name
	Name string
}

var _ InteractionStore = (*CookieInteractionStore)(nil)

func NewCookieInteractionStore(store sessions.Store, name string) *CookieInteractionStore {
	return &CookieInteractionStore{
		Store: store,
		Name:  name,
	}
}

func (s *CookieInteractionStore) session(r *http.Request) (*sessions.Session, error) {
	sess, err := s.Store.Get(r, s.Name)
	if err != nil && sess == nil {
		return nil, err
	}
	return sess, nil
}

func (s *CookieInteractionStore) put(w http.ResponseWriter, r *http.Request, key string, v any) error {
	sess, err := s.session(r)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sess.Values[key] = string(b)
	return sess.Save(r, w)
}

func (s *CookieInteractionStore) get(r *http.Request, key string, v any) (bool, error) {
	sess, err := s.session(r)
	if err != nil {
		return false, err
	}
	raw, ok := sess.Values[key].(string)
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decoding session value %q: %w", key, err)
	}
	return true, nil
}

func (s *CookieInteractionStore) remove(w http.ResponseWriter, r *http.Request, key string) error {
	sess, err := s.session(r)
	if err != nil {
		return err
	}
	if _, ok := sess.Values[key]; !ok {
		return nil
	}
	delete(sess.Values, key)
	return sess.Save(r, w)
}

func (s *CookieInteractionStore) SaveInteraction(w http.ResponseWriter, r *http.Request, in *Interaction) error {
	return s.put(w, r, sessionKeyInteraction, in)
}

func (s *CookieInteractionStore) TakeInteraction(w http.ResponseWriter, r *http.Request) (*Interaction, error) {
	var in Interaction
	ok, err := s.get(r, sessionKeyInteraction, &in)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoPendingRequest
	}
	if err := s.remove(w, r, sessionKeyInteraction); err != nil {
		return nil, err
	}
	return &in, nil
}

func (s *CookieInteractionStore) SaveAuthorization(w http.ResponseWriter, r *http.Request, auth *Authorization) error {
	return s.put(w, r, sessionKeyAuthorization, auth)
}

func (s *CookieInteractionStore) GetAuthorization(w http.ResponseWriter, r *http.Request) (*Authorization, error) {
	var auth Authorization
	ok, err := s.get(r, sessionKeyAuthorization, &auth)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAuthorizationNotFound
	}
	return &auth, nil
}

func (s *CookieInteractionStore) DeleteAuthorization(w http.ResponseWriter, r *http.Request) error {
	return s.remove(w, r, sessionKeyAuthorization)
}

// SessionLogin runs logins for web servers, where each browser session has its own pending interaction and authorization. It uses the `form_post` response mode, and is normally paired with a confidential client configuration.
//
// The [ClientApp] supplies configuration, discovery, token exchange and ID token verification; its credential store is not used.
type SessionLogin struct {
	App          *ClientApp
	Interactions InteractionStore

	// Called when [SessionLogin.Middleware] rejects a request. Defaults to a plain 401.
	Unauthorized func(w http.ResponseWriter, r *http.Request, err error)

	// Clock, overridable in tests
	Now func() time.Time
}

func NewSessionLogin(app *ClientApp, interactions InteractionStore) *SessionLogin {
	return &SessionLogin{
		App:          app,
		Interactions: interactions,
		Now:          time.Now,
	}
}

func (s *SessionLogin) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// AuthorizeURL starts a login for username (which may be empty, to use the fallback issuer), saving the interaction in the user's session. It returns the URL to redirect to.
func (s *SessionLogin) AuthorizeURL(w http.ResponseWriter, r *http.Request, username string) (string, error) {
	ctx := r.Context()
	app := s.App
	username = normalizeUsername(username)

	config, err := app.OpenIDConfiguration(ctx, username)
	if err != nil {
		return "", err
	}
	verifier, challenge, err := CreateCodeChallengeAndVerifier(VerifierLength, ChallengeMethodS256)
	if err != nil {
		return "", err
	}
	nonce, err := randomNonce()
	if err != nil {
		return "", err
	}
	state, err := EncodeState(nil)
	if err != nil {
		return "", err
	}

	req := &AuthorizeRequest{
		URL:                 config.AuthorizationEndpoint,
		ClientID:            app.Config.ClientID,
		CodeChallenge:       challenge,
		CodeChallengeMethod: ChallengeMethodS256,
		Nonce:               nonce,
		State:               state,
		LoginHint:           username,
		MaxAge:              int(app.Config.MaxAge / time.Second),
		Prompt:              app.Config.Prompt,
		Resource:            app.Config.Resource,
		RedirectURI:         app.Config.RedirectURI,
		ResponseMode:        ResponseModeFormPost,
		ResponseType:        "code",
		Scope:               CanonicalizeScope(firstNonEmpty(app.Config.Scope, DefaultScope)),
	}
	if app.Versions != nil {
		req.PackageName, req.PackageVersion = app.Versions.Primary()
	}
	u, err := BuildAuthorizeURL(req)
	if err != nil {
		return "", err
	}

	err = s.Interactions.SaveInteraction(w, r, &Interaction{
		State:         state,
		Nonce:         nonce,
		Verifier:      verifier,
		TokenEndpoint: config.TokenEndpoint,
		JWKSURI:       config.JWKSURI,
		Username:      username,
	})
	if err != nil {
		return "", fmt.Errorf("saving login interaction: %w", err)
	}
	return u, nil
}

// StartLogin begins a login and redirects the user agent to the authorization server.
func (s *SessionLogin) StartLogin(w http.ResponseWriter, r *http.Request, username string) error {
	u, err := s.AuthorizeURL(w, r, username)
	if err != nil {
		return err
	}
	http.Redirect(w, r, u, http.StatusFound)
	return nil
}

// Callback handles the authorization server's `form_post` (or query) response, and saves the verified authorization in the user's session.
func (s *SessionLogin) Callback(w http.ResponseWriter, r *http.Request) (*Authorization, error) {
	ctx := r.Context()
	app := s.App

	in, err := s.Interactions.TakeInteraction(w, r)
	if err != nil {
		return nil, err
	}
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parsing callback form: %w", err)
	}
	resp, err := authorizeResponseFromValues(r.Form)
	if err != nil {
		logins.WithLabelValues("session", "error").Inc()
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(resp.State), []byte(in.State)) != 1 {
		logins.WithLabelValues("session", "error").Inc()
		return nil, ErrStateMismatch
	}

	tokenResp, err := app.requestToken(ctx, in.TokenEndpoint, TokenRequest{
		ClientID:     app.Config.ClientID,
		GrantType:    "authorization_code",
		Code:         resp.Code,
		CodeVerifier: in.Verifier,
		RedirectURI:  app.Config.RedirectURI,
	}, app.Config.ClientAuthMethod, app.Config.ClientSecret)
	if err != nil {
		logins.WithLabelValues("session", "error").Inc()
		return nil, err
	}
	idTok, err := app.Verifier.Verify(ctx, in.JWKSURI, tokenResp.IDToken, in.Nonce, app.Config.ClientID)
	if err != nil {
		logins.WithLabelValues("session", "error").Inc()
		return nil, err
	}

	auth := &Authorization{
		AccessToken: tokenResp.AccessToken,
		ExpiresAt:   s.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second).UnixMilli(),
		IDToken:     idTok,
		Scope:       CanonicalizeScope(firstNonEmpty(tokenResp.Scope, app.Config.Scope, DefaultScope)),
		Resource:    app.Config.Resource,
	}
	if err := s.Interactions.SaveAuthorization(w, r, auth); err != nil {
		return nil, fmt.Errorf("saving authorization: %w", err)
	}
	logins.WithLabelValues("session", "success").Inc()
	app.logger().Info("session login complete", "sub", auth.Subject())
	return auth, nil
}

// Logout removes the authorization from the user's session.
func (s *SessionLogin) Logout(w http.ResponseWriter, r *http.Request) error {
	return s.Interactions.DeleteAuthorization(w, r)
}

type authorizationCtxKey struct{}

func WithAuthorization(ctx context.Context, auth *Authorization) context.Context {
	return context.WithValue(ctx, authorizationCtxKey{}, auth)
}

// AuthorizationFromContext returns the authorization stored by [SessionLogin.Middleware].
func AuthorizationFromContext(ctx context.Context) (*Authorization, bool) {
	auth, ok := ctx.Value(authorizationCtxKey{}).(*Authorization)
	return auth, ok && auth != nil
}

// Middleware requires a valid session authorization granting at least one of scopes (if any are given). Invalid authorizations are removed from the session.
func (s *SessionLogin) Middleware(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, err := s.Interactions.GetAuthorization(w, r)
			if err == nil {
				err = ValidateAuthorization(auth, s.App.Config.Resource, scopes, s.now())
			}
			if err != nil {
				if !errors.Is(err, ErrAuthorizationNotFound) || errors.Is(err, ErrAuthorizationExpired) {
					if derr := s.Interactions.DeleteAuthorization(w, r); derr != nil {
						s.App.logger().Warn("failed to delete session authorization", "err", derr)
					}
				}
				s.App.logger().Debug("rejecting request", "path", r.URL.Path, "err", err)
				s.unauthorized(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuthorization(r.Context(), auth)))
		})
	}
}

func (s *SessionLogin) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	if s.Unauthorized != nil {
		s.Unauthorized(w, r, err)
		return
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

