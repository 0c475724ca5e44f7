package oauth

import (
	"slices"
	"time"
)

// ValidateAuthorization checks that an authorization was issued for audience, grants at least one of scopes, and has not expired. An empty audience or scope list skips that check.
func ValidateAuthorization(auth *Authorization, audience string, scopes []string, now time.Time) error {
	if auth == nil {
		return ErrAuthorizationNotFound
	}
	if auth.Resource != "" && audience != "" && auth.Resource != audience {
		return ErrAudienceMismatch
	}
	if len(scopes) > 0 {
		granted := scopeList(auth.Scope)
		if !slices.ContainsFunc(scopes, func(s string) bool { return slices.Contains(granted, s) }) {
			return ErrScopeNotAllowed
		}
	}
	if auth.Expired(now) {
		return ErrAuthorizationExpired
	}
	return nil
}
