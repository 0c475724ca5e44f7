package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/urfave/cli/v2"
)

var cmdStore = &cli.Command{
	Name:  "store",
	Usage: "inspect and maintain the local credential store",
	Subcommands: []*cli.Command{
		{
			Name:   "ls",
			Usage:  "list stored keys and their expiry",
			Action: runStoreList,
		},
		{
			Name:   "sweep",
			Usage:  "remove expired entries",
			Action: runStoreSweep,
		},
		{
			Name:   "clear",
			Usage:  "remove every entry, including logins",
			Action: runStoreClear,
		},
	},
}

func runStoreList(cctx *cli.Context) error {
	ctx := context.Background()

	app, closeStore, err := loadClientApp(cctx)
	if err != nil {
		return err
	}
	defer closeStore()

	entries, err := app.Store.Entries(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := time.Now()
	for _, k := range keys {
		e := entries[k]
		switch {
		case e.ExpiresAt == 0:
			fmt.Printf("%s\tnever\n", k)
		case e.Expired(now):
			fmt.Printf("%s\texpired\n", k)
		default:
			fmt.Printf("%s\t%s\n", k, time.UnixMilli(e.ExpiresAt).Format(time.RFC3339))
		}
	}
	return nil
}

func runStoreSweep(cctx *cli.Context) error {
	ctx := context.Background()

	app, closeStore, err := loadClientApp(cctx)
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := app.Store.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d expired entries\n", n)
	return nil
}

func runStoreClear(cctx *cli.Context) error {
	ctx := context.Background()

	app, closeStore, err := loadClientApp(cctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return app.Store.Clear(ctx)
}
