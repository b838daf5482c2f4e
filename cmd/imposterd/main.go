// imposterd CLI entry point.
package main

import (
	"os"

	"github.com/imposterd/imposterd/pkg/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
