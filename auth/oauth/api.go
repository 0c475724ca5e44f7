package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/go-querystring/query"
)

const maxResponseSize = 1 << 20

// BuildAuthorizeURL serializes the public parameters of a request on to its authorization endpoint. Empty optional parameters are omitted. The client secret and auth method are never included.
func BuildAuthorizeURL(req *AuthorizeRequest) (string, error) {
	return buildURL(req.URL, req)
}

// BuildLogoutURL serializes a logout request on to its end-session endpoint.
func BuildLogoutURL(req *LogoutRequest) (string, error) {
	return buildURL(req.URL, req)
}

func buildURL(endpoint string, params any) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint URL: %w", err)
	}
	vals, err := query.Values(params)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range vals {
		for _, v := range vs {
			if v != "" {
				q.Add(k, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseAuthorizeResponse reads authorization response parameters from the fragment or query of a callback URL. An `error` parameter is returned as an [*APIError].
func ParseAuthorizeResponse(rawURL, responseMode string) (*AuthorizeResponse, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid callback URL: %w", err)
	}
	var vals url.Values
	switch responseMode {
	case ResponseModeFragment:
		vals, err = url.ParseQuery(u.EscapedFragment())
		if err != nil {
			return nil, fmt.Errorf("invalid callback fragment: %w", err)
		}
	case ResponseModeQuery:
		vals = u.Query()
	default:
		return nil, fmt.Errorf("%w: unsupported response mode: %s", ErrInvalidConfig, responseMode)
	}
	return authorizeResponseFromValues(vals)
}

func authorizeResponseFromValues(vals url.Values) (*AuthorizeResponse, error) {
	if apiErr := apiErrorFromValues(vals); apiErr != nil {
		return nil, apiErr
	}
	return &AuthorizeResponse{
		Code:  vals.Get("code"),
		State: vals.Get("state"),
	}, nil
}

// Sends an authorization_code grant to the token endpoint, authenticating the client with authMethod.
func (app *ClientApp) requestToken(ctx context.Context, tokenEndpoint string, body TokenRequest, authMethod, secret string) (*TokenResponse, error) {
	var basicAuth bool
	switch resolveAuthMethod(authMethod, secret) {
	case AuthMethodNone:
		body.ClientSecret = ""
	case AuthMethodSecretPost:
		if secret == "" {
			return nil, fmt.Errorf("%w: client secret not present", ErrInvalidConfig)
		}
		body.ClientSecret = secret
	case AuthMethodSecretBasic:
		if secret == "" {
			return nil, fmt.Errorf("%w: client secret not present", ErrInvalidConfig)
		}
		body.ClientSecret = ""
		basicAuth = true
	default:
		return nil, fmt.Errorf("%w: unsupported client auth method: %s", ErrInvalidConfig, authMethod)
	}

	vals, err := query.Values(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, bytes.NewBufferString(vals.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if basicAuth {
		req.SetBasicAuth(body.ClientID, secret)
	}

	start := time.Now()
	resp, err := app.Client.Do(req)
	if err != nil {
		tokenRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()
	tokenRequestDuration.Observe(time.Since(start).Seconds())

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		tokenRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	if apiErr := parseAPIError(respBytes, resp.StatusCode); apiErr != nil {
		tokenRequests.WithLabelValues("rejected").Inc()
		app.logger().Warn("token request failed", "authServer", tokenEndpoint, "resp", apiErr, "statusCode", resp.StatusCode)
		return nil, apiErr
	}
	if resp.StatusCode != http.StatusOK {
		tokenRequests.WithLabelValues("error").Inc()
		app.logger().Warn("token request failed", "authServer", tokenEndpoint, "statusCode", resp.StatusCode)
		return nil, fmt.Errorf("token request failed: HTTP %d", resp.StatusCode)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(respBytes, &tokenResp); err != nil {
		tokenRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("token response failed to decode: %w", err)
	}
	if tokenResp.AccessToken == "" || tokenResp.IDToken == "" {
		tokenRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("token response missing access_token or id_token")
	}
	tokenRequests.WithLabelValues("success").Inc()
	return &tokenResp, nil
}

// Returns an APIError if the body is a JSON object with an `error` member.
func parseAPIError(body []byte, statusCode int) *APIError {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == "" {
		return nil
	}
	apiErr.StatusCode = statusCode
	return &apiErr
}

// Fetches claims from a userinfo endpoint with a bearer access token.
func fetchUserInfo(ctx context.Context, client *http.Client, logger *slog.Logger, endpoint, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	if apiErr := parseAPIError(respBytes, resp.StatusCode); apiErr != nil {
		logger.Warn("userinfo request failed", "url", endpoint, "resp", apiErr, "statusCode", resp.StatusCode)
		return nil, apiErr
	}
	if resp.StatusCode != http.StatusOK {
		logger.Warn("userinfo request failed", "url", endpoint, "statusCode", resp.StatusCode)
		return nil, fmt.Errorf("userinfo request failed: HTTP %d", resp.StatusCode)
	}

	var claims map[string]any
	if err := json.Unmarshal(respBytes, &claims); err != nil {
		return nil, fmt.Errorf("userinfo response failed to decode: %w", err)
	}
	return claims, nil
}

// FetchUserInfo calls a userinfo endpoint with a bearer access token and returns the claims. Failures are logged to logger, or the default logger when nil.
func FetchUserInfo(ctx context.Context, client *http.Client, logger *slog.Logger, endpoint, accessToken string) (UserInfo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	claims, err := fetchUserInfo(ctx, client, logger, endpoint, accessToken)
	if err != nil {
		return nil, err
	}
	return UserInfo(claims), nil
}
