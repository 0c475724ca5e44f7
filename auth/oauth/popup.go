package oauth

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// A window the authorization URL is opened in, which the client can observe but not control beyond navigating and closing it.
type Popup interface {
	Navigate(url string) error

	// Current location. An error means the location is not readable yet (eg, cross-origin), and polling continues.
	Location() (string, error)
	Closed() bool
	Close() error
}

type PopupConfig struct {
	// An already-open popup, navigated to the authorization URL
	Popup Popup

	// Opens a new popup at the authorization URL, when Popup is nil
	Open func(ctx context.Context, url string) (Popup, error)

	// Zero values fall back to the client configuration
	Timeout      time.Duration
	PollInterval time.Duration
}

// AuthorizeWithPopup sends a popup to the authorization URL for req and waits for it to reach the redirect URI. The popup is closed on every outcome except the user closing it themselves.
func (app *ClientApp) AuthorizeWithPopup(ctx context.Context, req *AuthorizeRequest, cfg PopupConfig) (*AuthorizeResponse, error) {
	u, err := BuildAuthorizeURL(req)
	if err != nil {
		return nil, err
	}

	popup := cfg.Popup
	if popup == nil {
		if cfg.Open == nil {
			return nil, fmt.Errorf("%w: no popup given", ErrInvalidConfig)
		}
		popup, err = cfg.Open(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("opening popup: %w", err)
		}
	} else if err := popup.Navigate(u); err != nil {
		return nil, fmt.Errorf("navigating popup: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = app.Config.PopupTimeout
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = app.Config.PopupPollInterval
	}
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return waitForRedirect(ctx, popup, req.RedirectURI, timeout, interval)
}

func waitForRedirect(ctx context.Context, popup Popup, redirectURI string, timeout, interval time.Duration) (*AuthorizeResponse, error) {
	redirect, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redirect URI: %w", ErrInvalidConfig, err)
	}
	redirect.Fragment = ""
	redirect.RawFragment = ""
	target := redirect.String()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			popup.Close()
			return nil, ctx.Err()
		case <-timer.C:
			popup.Close()
			return nil, ErrPopupTimeout
		case <-ticker.C:
			if popup.Closed() {
				return nil, ErrPopupClosed
			}
			loc, err := popup.Location()
			if err != nil || !atRedirect(loc, target) {
				continue
			}
			popup.Close()
			return ParseAuthorizeResponse(loc, ResponseModeFragment)
		}
	}
}

func atRedirect(location, target string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String() == target
}
