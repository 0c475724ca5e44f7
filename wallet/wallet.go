// Package wallet connects a logged-in domain to the wallet it was registered with.
//
// After a login with the `wallet` scope, the ID token carries `wallet_address` and `wallet_type_hint` claims. [SessionConnector] reads the hint and hands off to a wallet-specific [Connector] (an injected browser wallet, WalletConnect, ...), which this package does not implement.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/uauth/uauth-go/auth/oauth"

	"github.com/carlmjohnson/versioninfo"
)

// Name reported to authorization servers by logins started from a [SessionConnector].
const PackageName = "uauth-go/wallet"

// Wallet type hints, as found in the `wallet_type_hint` claim
const (
	TypeInjected      = "injected"
	TypeWeb3          = "web3"
	TypeWalletConnect = "walletconnect"
)

var (
	ErrWalletScopeRequired = errors.New(`must request the "wallet" scope for connector to work`)
	ErrNoWalletType        = errors.New("no wallet type present")
	ErrUnsupportedWallet   = errors.New("wallet type not supported")
	ErrNotConnected        = errors.New("wallet not connected")

	// Returned by Connect in redirect mode, once the user agent has been sent to the authorization server. The connection is completed by a later Connect, after the login callback.
	ErrLoginRedirect = errors.New("login continues at authorization server")
)

// Wallet connection, in the shape of common wallet framework connectors.
type Connector interface {
	Connect(ctx context.Context) error
	Provider(ctx context.Context) (any, error)
	Account(ctx context.Context) (string, error)
	ChainID(ctx context.Context) (string, error)
	Disconnect(ctx context.Context) error
	IsAuthorized(ctx context.Context) (bool, error)
}

// Engine is the part of [oauth.ClientApp] a [SessionConnector] needs.
type Engine interface {
	User(ctx context.Context, opts oauth.UserOptions) (oauth.UserInfo, error)
	Login(ctx context.Context, opts oauth.LoginOptions) (string, error)
	LoginWithPopup(ctx context.Context, opts oauth.LoginOptions, popup oauth.PopupConfig) (*oauth.Authorization, error)
	Logout(ctx context.Context, opts oauth.LogoutOptions) (string, error)
}

var _ Engine = (*oauth.ClientApp)(nil)

// SessionConnector is a [Connector] which logs in with a domain, then delegates to the sub-connector for the domain's wallet type.
type SessionConnector struct {
	Engine Engine

	// Login scope; must include `wallet`
	Scope string

	// Sub-connectors keyed by wallet type. `web3` hints use the `injected` connector.
	Connectors map[string]Connector

	// Log in by redirecting instead of with a popup
	LoginWithRedirect bool

	// Receives the login URL in redirect mode
	Redirect func(ctx context.Context, url string) error
	Popup    oauth.PopupConfig

	Logger *slog.Logger

	lk  sync.Mutex
	sub Connector
}

var _ Connector = (*SessionConnector)(nil)

// NewSessionConnector requests `openid wallet` by default. When engine is an [oauth.ClientApp], this package becomes the primary entry in its version registry.
func NewSessionConnector(engine Engine, connectors map[string]Connector) *SessionConnector {
	if app, ok := engine.(*oauth.ClientApp); ok && app.Versions != nil {
		app.Versions.SetPrimary(PackageName, versioninfo.Short())
	}
	return &SessionConnector{
		Engine:     engine,
		Scope:      "openid wallet",
		Connectors: connectors,
		Logger:     slog.Default().With("component", "wallet"),
	}
}

func (c *SessionConnector) authorizationOptions() oauth.AuthorizationOptions {
	return oauth.AuthorizationOptions{Scope: c.Scope}
}

func loggedOut(err error) bool {
	return errors.Is(err, oauth.ErrAuthorizationNotFound) || errors.Is(err, oauth.ErrNoUsername)
}

func (c *SessionConnector) user(ctx context.Context) (oauth.UserInfo, error) {
	return c.Engine.User(ctx, oauth.UserOptions{
		AuthorizationOptions: c.authorizationOptions(),
		Claims:               []string{"wallet_address", "wallet_type_hint"},
	})
}

func (c *SessionConnector) login(ctx context.Context) (oauth.UserInfo, error) {
	if !oauth.HasScope(c.Scope, "wallet") {
		return nil, ErrWalletScopeRequired
	}
	opts := oauth.LoginOptions{Scope: c.Scope}

	if c.LoginWithRedirect {
		u, err := c.Engine.Login(ctx, opts)
		if err != nil {
			return nil, err
		}
		if c.Redirect != nil {
			if err := c.Redirect(ctx, u); err != nil {
				return nil, err
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrLoginRedirect, u)
	}

	if _, err := c.Engine.LoginWithPopup(ctx, opts, c.Popup); err != nil {
		return nil, err
	}
	return c.user(ctx)
}

// Picks the sub-connector for a wallet type hint.
func (c *SessionConnector) connectorFor(hint string) (Connector, error) {
	switch hint {
	case "":
		return nil, ErrNoWalletType
	case TypeWeb3:
		hint = TypeInjected
	}
	sub, ok := c.Connectors[hint]
	if !ok || sub == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedWallet, hint)
	}
	return sub, nil
}

// Connect ensures there is a login (starting one if needed) and activates the sub-connector for its wallet.
func (c *SessionConnector) Connect(ctx context.Context) error {
	user, err := c.user(ctx)
	if err != nil {
		if !loggedOut(err) {
			return err
		}
		user, err = c.login(ctx)
		if err != nil {
			return err
		}
	}

	sub, err := c.connectorFor(user.WalletTypeHint())
	if err != nil {
		return err
	}
	if err := sub.Connect(ctx); err != nil {
		return fmt.Errorf("connecting %s wallet: %w", user.WalletTypeHint(), err)
	}

	c.lk.Lock()
	c.sub = sub
	c.lk.Unlock()
	c.Logger.Info("wallet connected", "sub", user.Subject(), "walletType", user.WalletTypeHint())
	return nil
}

func (c *SessionConnector) subConnector() (Connector, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.sub == nil {
		return nil, ErrNotConnected
	}
	return c.sub, nil
}

func (c *SessionConnector) Provider(ctx context.Context) (any, error) {
	sub, err := c.subConnector()
	if err != nil {
		return nil, err
	}
	return sub.Provider(ctx)
}

func (c *SessionConnector) Account(ctx context.Context) (string, error) {
	sub, err := c.subConnector()
	if err != nil {
		return "", err
	}
	return sub.Account(ctx)
}

func (c *SessionConnector) ChainID(ctx context.Context) (string, error) {
	sub, err := c.subConnector()
	if err != nil {
		return "", err
	}
	return sub.ChainID(ctx)
}

// Disconnect drops the local login (without RP-initiated logout) and disconnects the wallet.
func (c *SessionConnector) Disconnect(ctx context.Context) error {
	c.lk.Lock()
	sub := c.sub
	c.sub = nil
	c.lk.Unlock()
	if sub == nil {
		return nil
	}

	rpInitiated := false
	_, err := c.Engine.Logout(ctx, oauth.LogoutOptions{
		AuthorizationOptions: c.authorizationOptions(),
		RPInitiatedLogout:    &rpInitiated,
	})
	if err != nil && !loggedOut(err) {
		return err
	}
	return sub.Disconnect(ctx)
}

// IsAuthorized reports whether there is a current login and the connected wallet is authorized.
func (c *SessionConnector) IsAuthorized(ctx context.Context) (bool, error) {
	if _, err := c.user(ctx); err != nil {
		if loggedOut(err) {
			return false, nil
		}
		return false, err
	}
	sub, err := c.subConnector()
	if err != nil {
		return false, nil
	}
	return sub.IsAuthorized(ctx)
}
