package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/uauth/uauth-go/auth/oauth"
	"github.com/uauth/uauth-go/auth/resource"

	"github.com/flosch/pongo2/v6"
	"github.com/labstack/echo/v4"
)

func (srv *WebServer) WebHome(c echo.Context) error {
	data := pongo2.Context{}
	if _, ok := c.Request().URL.Query()["loggedOut"]; ok {
		data["loggedOut"] = true
	}
	return c.Render(http.StatusOK, "home.html", data)
}

func (srv *WebServer) WebLogin(c echo.Context) error {
	username := strings.TrimSpace(c.FormValue("username"))
	if len(username) > 256 {
		return echo.NewHTTPError(http.StatusBadRequest, "domain name is too long")
	}
	if err := srv.login.StartLogin(c.Response(), c.Request(), username); err != nil {
		srv.logger.Warn("failed to start login", "username", username, "err", err)
		return echo.NewHTTPError(http.StatusBadRequest, "could not start login for that domain")
	}
	return nil
}

func (srv *WebServer) WebCallback(c echo.Context) error {
	auth, err := srv.login.Callback(c.Response(), c.Request())
	if err != nil {
		srv.logger.Warn("login callback failed", "err", err)
		var apiErr *oauth.APIError
		if errors.As(err, &apiErr) {
			return echo.NewHTTPError(http.StatusUnauthorized, apiErr.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, "login failed")
	}
	srv.logger.Info("user logged in", "sub", auth.Subject())
	return c.Redirect(http.StatusFound, "/profile")
}

func (srv *WebServer) WebLogout(c echo.Context) error {
	if err := srv.login.Logout(c.Response(), c.Request()); err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, "/?loggedOut")
}

func (srv *WebServer) WebProfile(c echo.Context) error {
	auth, ok := oauth.AuthorizationFromContext(c.Request().Context())
	if !ok {
		return c.Redirect(http.StatusFound, "/")
	}

	claims := map[string]any{}
	for _, name := range oauth.DefaultUserClaims {
		if v, ok := auth.IDToken.Claim(name); ok && v != nil && v != "" {
			claims[name] = v
		}
	}
	data := pongo2.Context{
		"sub":           auth.Subject(),
		"scope":         auth.Scope,
		"expiresAt":     time.UnixMilli(auth.ExpiresAt).UTC().Format(time.RFC3339),
		"claims":        claims,
		"walletAddress": claims["wallet_address"],
	}
	return c.Render(http.StatusOK, "profile.html", data)
}

type WhoamiResponse struct {
	Domain        string `json:"domain"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

func (srv *WebServer) APIWhoami(c echo.Context) error {
	p, ok := resource.PrincipalFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized)
	}
	return c.JSON(http.StatusOK, WhoamiResponse{
		Domain:        p.Domain,
		WalletAddress: p.UserInfo.WalletAddress(),
	})
}
