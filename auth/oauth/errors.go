package oauth

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrInvalidConfig         = errors.New("invalid client configuration")
	ErrInvalidState          = errors.New("failed to decode state")
	ErrStateMismatch         = errors.New("state does not match request")
	ErrNoPendingRequest      = errors.New("no pending authorize request")
	ErrNoPendingLogout       = errors.New("no pending logout request")
	ErrVerifierNotFound      = errors.New("PKCE verifier not found")
	ErrAuthorizationNotFound = errors.New("authorization not found")
	ErrAuthorizationExpired  = fmt.Errorf("%w: authorization has expired", ErrAuthorizationNotFound)
	ErrNoUsername            = errors.New("no username given")
	ErrAudienceMismatch      = errors.New("incorrect audience for authorization")
	ErrScopeNotAllowed       = errors.New("scope not allowed")
	ErrPopupTimeout          = errors.New("popup timed out")
	ErrPopupClosed           = errors.New("popup closed")
)

// Error response from an authorization server, either in an authorization redirect or from the token endpoint.
type APIError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`

	// HTTP status of the response; zero for errors returned in a redirect
	StatusCode int `json:"-"`
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func apiErrorFromValues(vals url.Values) *APIError {
	if vals.Get("error") == "" {
		return nil
	}
	return &APIError{
		Code:        vals.Get("error"),
		Description: vals.Get("error_description"),
		URI:         vals.Get("error_uri"),
	}
}
