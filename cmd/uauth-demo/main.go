package main

import (
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
)

var (
	version = versioninfo.Short()
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "uauth-demo",
		Usage:   "example web app with login by domain name",
		Version: version,
		Flags: []cli.Flag{
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
		},
	}

	app.Commands = []*cli.Command{
		&cli.Command{
			Name:   "serve",
			Usage:  "run the web server",
			Action: runServe,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "bind",
					Usage:   "Specify the local IP/port to bind to",
					Value:   ":5080",
					EnvVars: []string{"UAUTH_DEMO_BIND"},
				},
				&cli.StringFlag{
					Name:     "client-id",
					Usage:    "OAuth client identifier",
					Required: true,
					EnvVars:  []string{"UAUTH_CLIENT_ID"},
				},
				&cli.StringFlag{
					Name:     "client-secret",
					Usage:    "OAuth client secret",
					Required: true,
					EnvVars:  []string{"UAUTH_CLIENT_SECRET"},
				},
				&cli.StringFlag{
					Name:    "client-auth-method",
					Usage:   "client_secret_post or client_secret_basic",
					Value:   "client_secret_basic",
					EnvVars: []string{"UAUTH_CLIENT_AUTH_METHOD"},
				},
				&cli.StringFlag{
					Name:    "redirect-uri",
					Usage:   "public URL of the /callback endpoint",
					Value:   "http://localhost:5080/callback",
					EnvVars: []string{"UAUTH_REDIRECT_URI"},
				},
				&cli.StringFlag{
					Name:    "scope",
					Usage:   "space-separated scopes to request",
					Value:   "openid wallet",
					EnvVars: []string{"UAUTH_SCOPE"},
				},
				&cli.StringFlag{
					Name:    "fallback-issuer",
					Usage:   "issuer for domains without a webfinger record",
					EnvVars: []string{"UAUTH_FALLBACK_ISSUER"},
				},
				&cli.StringFlag{
					Name:    "store",
					Usage:   "credential store for cached issuer configuration: memory, lru, redis://, sqlite://, postgres://, or a pebble directory",
					Value:   "lru",
					EnvVars: []string{"UAUTH_STORE"},
				},
				&cli.DurationFlag{
					Name:    "sweep-interval",
					Usage:   "how often expired store entries are removed",
					Value:   defaultSweepInterval,
					EnvVars: []string{"UAUTH_SWEEP_INTERVAL"},
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
					Name:     "session-secret",
					Usage:    "random string used to sign session cookies",
					Required: true,
					EnvVars:  []string{"SESSION_SECRET"},
				},
				&cli.BoolFlag{
					Name:    "debug",
					Usage:   "load templates from disk on every request",
					EnvVars: []string{"DEBUG"},
				},
			},
		},
		&cli.Command{
			Name:  "version",
			Usage: "print version",
			Action: func(cctx *cli.Context) error {
				fmt.Println(version)
				return nil
			},
		},
	}

	return app.Run(args)
}
