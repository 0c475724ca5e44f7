package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(-1)
	}
}

var clientFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "client-id",
		Usage:   "OAuth client identifier",
		Value:   "uauth-cli",
		EnvVars: []string{"UAUTH_CLIENT_ID"},
	},
	&cli.StringFlag{
		Name:    "client-secret",
		Usage:   "client secret, for confidential clients",
		EnvVars: []string{"UAUTH_CLIENT_SECRET"},
	},
	&cli.StringFlag{
		Name:    "client-auth-method",
		Usage:   "token endpoint auth method when a secret is set (client_secret_post or client_secret_basic)",
		EnvVars: []string{"UAUTH_CLIENT_AUTH_METHOD"},
	},
	&cli.StringFlag{
		Name:    "redirect-uri",
		Usage:   "loopback redirect URI registered for this client",
		Value:   "http://127.0.0.1:5005/callback",
		EnvVars: []string{"UAUTH_REDIRECT_URI"},
	},
	&cli.StringFlag{
		Name:    "scope",
		Usage:   "space-separated scopes to request",
		Value:   "openid",
		EnvVars: []string{"UAUTH_SCOPE"},
	},
	&cli.StringFlag{
		Name:    "resource",
		Usage:   "audience (resource indicator) for access tokens",
		EnvVars: []string{"UAUTH_RESOURCE"},
	},
	&cli.StringFlag{
		Name:    "fallback-issuer",
		Usage:   "issuer for domains without a webfinger record",
		EnvVars: []string{"UAUTH_FALLBACK_ISSUER"},
	},
	&cli.StringFlag{
		Name:    "store",
		Usage:   "credential store: memory, lru, redis://, sqlite://, postgres://, or a pebble directory (default: XDG state dir)",
		EnvVars: []string{"UAUTH_STORE"},
	},
	&cli.StringFlag{
		Name:    "resolver-host",
		Usage:   "domain record resolution service",
		EnvVars: []string{"UAUTH_RESOLVER_HOST"},
	},
	&cli.StringFlag{
		Name:    "resolver-api-key",
		Usage:   "API key for the record resolution service",
		EnvVars: []string{"UAUTH_RESOLVER_API_KEY"},
	},
	&cli.StringFlag{
		Name:    "ipfs-gateway",
		Usage:   "base URL of an IPFS gateway for ipfs: webfinger records",
		EnvVars: []string{"UAUTH_IPFS_GATEWAY"},
	},
	&cli.BoolFlag{
		Name:    "cache-issuer",
		Usage:   "cache resolved OpenID configurations in the credential store",
		Value:   true,
		EnvVars: []string{"UAUTH_CACHE_ISSUER"},
	},
	&cli.StringFlag{
		Name:    "log-level",
		Usage:   "log verbosity level (eg: warn, info, debug)",
		EnvVars: []string{"UAUTH_LOG_LEVEL", "LOG_LEVEL"},
	},
	&cli.StringFlag{
		Name:    "log-format",
		Usage:   "log output format: text or json",
		EnvVars: []string{"UAUTH_LOG_FORMAT", "LOG_FORMAT"},
	},
}

func run(args []string) error {

	app := cli.App{
		Name:    "uauth",
		Usage:   "login with a blockchain domain from the command line",
		Version: versioninfo.Short(),
		Flags:   clientFlags,
	}
	app.Commands = []*cli.Command{
		cmdResolve,
		cmdLogin,
		cmdAuthorizeURL,
		cmdUser,
		cmdLogout,
		cmdStore,
		cmdVersion,
	}
	return app.Run(args)
}
