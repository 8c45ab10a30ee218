// Package main is the entry point for the tvaultctl CLI binary.
package main

import (
	"os"

	cli "tvault-control/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
