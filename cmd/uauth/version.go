package main

import (
	"fmt"

	"github.com/uauth/uauth-go/version"

	"github.com/urfave/cli/v2"
)

var cmdVersion = &cli.Command{
	Name:   "version",
	Usage:  "print versions of the client packages",
	Action: runVersions,
}

func runVersions(cctx *cli.Context) error {
	reg := version.NewRegistry()
	versions := reg.Versions()
	primary, _ := reg.Primary()
	for _, name := range reg.Names() {
		marker := ""
		if name == primary {
			marker = " (primary)"
		}
		fmt.Printf("%s\t%s%s\n", name, versions[name], marker)
	}
	return nil
}
