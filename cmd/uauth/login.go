package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/uauth/uauth-go/auth/oauth"

	"github.com/urfave/cli/v2"
)

var cmdLogin = &cli.Command{
	Name:      "login",
	Usage:     "log in with a domain name through the system browser",
	ArgsUsage: `[<username>]`,
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "how long to wait for the browser to complete login",
			Value: 5 * time.Minute,
		},
	},
	Action: runLogin,
}

var cmdAuthorizeURL = &cli.Command{
	Name:      "authorize-url",
	Usage:     "print an authorization URL without waiting for the callback",
	ArgsUsage: `<username>`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "response-mode",
			Usage: "fragment, query, or form_post",
		},
		&cli.StringFlag{
			Name:  "state",
			Usage: "JSON value round-tripped through the state parameter",
		},
	},
	Action: runAuthorizeURL,
}

var cmdUser = &cli.Command{
	Name:      "user",
	Usage:     "print claims for the current login",
	ArgsUsage: `[<username>]`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "claim",
			Usage: "claim to include (repeatable); defaults to the standard and wallet claims",
		},
		&cli.BoolFlag{
			Name:  "userinfo",
			Usage: "fetch claims from the issuer's userinfo endpoint instead of the ID token",
		},
	},
	Action: runUser,
}

var cmdLogout = &cli.Command{
	Name:      "logout",
	Usage:     "remove a cached login",
	ArgsUsage: `[<username>]`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "rp",
			Usage: "also print the issuer's end-session URL (RP-initiated logout)",
		},
		&cli.StringFlag{
			Name:  "post-logout-redirect-uri",
			Usage: "where the issuer sends the browser after an RP-initiated logout",
		},
	},
	Action: runLogout,
}

func printBrowserURL(u string) error {
	fmt.Fprintf(os.Stderr, "Open this URL in your browser to continue:\n\n  %s\n\n", u)
	return nil
}

func runLogin(cctx *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, closeStore, err := loadClientApp(cctx)
	if err != nil {
		return err
	}
	defer closeStore()

	username := cctx.Args().First()
	if username == "" {
		app.UI = oauth.NewTerminalUI(os.Stdin, os.Stderr)
	}

	popup := oauth.PopupConfig{
		Open: func(ctx context.Context, u string) (oauth.Popup, error) {
			p, err := oauth.NewLoopbackPopup(app.Config.RedirectURI, printBrowserURL)
			if err != nil {
				return nil, err
			}
			if err := p.Navigate(u); err != nil {
				p.Close()
				return nil, err
			}
			return p, nil
		},
		Timeout: cctx.Duration("timeout"),
	}

	auth, err := app.LoginWithPopup(ctx, oauth.LoginOptions{Username: username}, popup)
	if err != nil {
		return err
	}

	fmt.Printf("Logged in as %s (expires %s)\n", auth.Subject(), time.UnixMilli(auth.ExpiresAt).Format(time.RFC3339))
	return nil
}

func runAuthorizeURL(cctx *cli.Context) error {
	ctx := context.Background()
	username := cctx.Args().First()
	if username == "" {
		return fmt.Errorf("need to provide username as an argument")
	}

	app, closeStore, err := loadClientApp(cctx)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := oauth.LoginOptions{
		Username:     username,
		ResponseMode: cctx.String("response-mode"),
	}
	if s := cctx.String("state"); s != "" {
		var state any
		if err := json.Unmarshal([]byte(s), &state); err != nil {
			return fmt.Errorf("state must be valid JSON: %w", err)
		}
		opts.State = state
	}

	u, err := app.Login(ctx, opts)
	if err != nil {
		return err
	}
	fmt.Println(u)
	return nil
}

func runUser(cctx *cli.Context) error {
	ctx := context.Background()

	app, closeStore, err := loadClientApp(cctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if cctx.Bool("userinfo") {
		app.Config.UserInfoFromClaims = false
	}
	info, err := app.User(ctx, oauth.UserOptions{
		AuthorizationOptions: oauth.AuthorizationOptions{Username: cctx.Args().First()},
		Claims:               cctx.StringSlice("claim"),
	})
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func runLogout(cctx *cli.Context) error {
	ctx := context.Background()

	app, closeStore, err := loadClientApp(cctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rp := cctx.Bool("rp")
	opts := oauth.LogoutOptions{
		AuthorizationOptions:  oauth.AuthorizationOptions{Username: cctx.Args().First()},
		PostLogoutRedirectURI: cctx.String("post-logout-redirect-uri"),
		RPInitiatedLogout:     &rp,
	}
	if rp && opts.PostLogoutRedirectURI == "" {
		opts.PostLogoutRedirectURI = strings.TrimSuffix(app.Config.RedirectURI, "/callback") + "/logout"
	}

	u, err := app.Logout(ctx, opts)
	if err != nil {
		return err
	}
	if u != "" {
		return printBrowserURL(u)
	}
	fmt.Println("Logged out")
	return nil
}
