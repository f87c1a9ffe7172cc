// Package main is the entry point for the xwalk-lua development host.
// This is a thin wrapper around the cli package.
package main

import (
	"os"

	"github.com/zot/xwalk-lua/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
