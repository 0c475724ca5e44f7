package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/uauth/uauth-go/auth/oauth"
	"github.com/uauth/uauth-go/credstore"
	"github.com/uauth/uauth-go/discovery"
	"github.com/uauth/uauth-go/pkg/robusthttp"
	"github.com/uauth/uauth-go/util/cliutil"

	"github.com/adrg/xdg"
	"github.com/urfave/cli/v2"
)

func configLogging(cctx *cli.Context) (*slog.Logger, error) {
	return cliutil.SetupSlog(cliutil.LogOptions{
		LogLevel:  cctx.String("log-level"),
		LogFormat: cctx.String("log-format"),
	})
}

func openStore(cctx *cli.Context) (*credstore.Store, func() error, error) {
	uri := cctx.String("store")
	if uri == "" {
		dir, err := xdg.StateFile("uauth/credentials")
		if err != nil {
			return nil, nil, err
		}
		uri = dir
	}
	return cliutil.OpenCredentialStore(uri)
}

func domainResolver(cctx *cli.Context) discovery.DomainResolver {
	host := cctx.String("resolver-host")
	if host == "" {
		return nil
	}
	r := discovery.NewAPIDomainResolver(host, cctx.String("resolver-api-key"))
	r.Client = robusthttp.NewClient(robusthttp.WithLogger(r.Logger))
	return r
}

func gatewayURLFunc(base string) func(cid, path string) string {
	base = strings.TrimSuffix(base, "/")
	return func(cid, path string) string {
		return fmt.Sprintf("%s/ipfs/%s%s", base, cid, path)
	}
}

// loadClientApp builds a client from the global flags. The returned close function releases the credential store.
func loadClientApp(cctx *cli.Context) (*oauth.ClientApp, func() error, error) {
	logger, err := configLogging(cctx)
	if err != nil {
		return nil, nil, err
	}

	config := oauth.NewClientConfig(cctx.String("client-id"), cctx.String("redirect-uri"))
	config.Scope = cctx.String("scope")
	config.Resource = cctx.String("resource")
	config.CacheIssuer = cctx.Bool("cache-issuer")
	if iss := cctx.String("fallback-issuer"); iss != "" {
		config.FallbackIssuer = iss
	}
	if gw := cctx.String("ipfs-gateway"); gw != "" {
		config.IPFSGateway = gatewayURLFunc(gw)
	}
	if secret := cctx.String("client-secret"); secret != "" {
		if err := config.SetClientSecret(secret, cctx.String("client-auth-method")); err != nil {
			return nil, nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}

	store, closeStore, err := openStore(cctx)
	if err != nil {
		return nil, nil, fmt.Errorf("opening credential store: %w", err)
	}

	app := oauth.NewClientApp(&config, store, domainResolver(cctx))
	app.Logger = logger.With("component", "oauth")
	// token exchange is not idempotent
	app.Client = robusthttp.NewClient(robusthttp.WithMaxRetries(0), robusthttp.WithLogger(logger))
	app.Verifier.Client = robusthttp.NewClient(robusthttp.WithLogger(logger))
	return app, closeStore, nil
}
