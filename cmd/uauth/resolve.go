package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uauth/uauth-go/discovery"
	"github.com/uauth/uauth-go/pkg/robusthttp"
	"github.com/uauth/uauth-go/util/retry"

	"github.com/urfave/cli/v2"
)

var cmdResolve = &cli.Command{
	Name:      "resolve",
	Usage:     "discover the OpenID configuration for a domain",
	ArgsUsage: `<username>`,
	Flags: []cli.Flag{
		&cli.UintFlag{
			Name:  "tries",
			Usage: "attempts before giving up on transient failures",
			Value: 3,
		},
	},
	Action: runResolve,
}

// errors which retrying will not fix
func permanentDiscoveryError(err error) bool {
	return errors.Is(err, discovery.ErrMalformedRecord) ||
		errors.Is(err, discovery.ErrUnsupportedScheme) ||
		errors.Is(err, discovery.ErrInvalidJRD) ||
		errors.Is(err, discovery.ErrResourceMismatch) ||
		errors.Is(err, discovery.ErrInvalidConfig)
}

func runResolve(cctx *cli.Context) error {
	ctx := context.Background()
	username := cctx.Args().First()
	if username == "" {
		return fmt.Errorf("need to provide username as an argument")
	}
	logger, err := configLogging(cctx)
	if err != nil {
		return err
	}

	resolver := discovery.NewIssuerResolver(domainResolver(cctx))
	resolver.Logger = logger.With("component", "discovery")
	// retries happen at the whole-resolution level below
	resolver.Client = robusthttp.NewClient(
		robusthttp.WithPublicOnly(),
		robusthttp.WithMaxRetries(0),
		robusthttp.WithTimeout(10*time.Second),
	)
	if gw := cctx.String("ipfs-gateway"); gw != "" {
		if wf, ok := resolver.WebFinger.(*discovery.RecordWebFingerResolver); ok {
			wf.IPFS.CreateURL = gatewayURLFunc(gw)
		}
	}

	fallback := cctx.String("fallback-issuer")
	if fallback == "" {
		fallback = discovery.DefaultFallbackIssuer
	}

	config, err := retry.Do(ctx, func(ctx context.Context) (*discovery.ProviderConfig, error) {
		config, err := resolver.Resolve(ctx, username, fallback)
		if err != nil && permanentDiscoveryError(err) {
			return nil, retry.Permanent(err)
		}
		return config, err
	}, retry.WithMaxTries(cctx.Uint("tries")), retry.WithLogger(logger))
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(b))
	return nil
}
