// Command lexgraph manages lexgraph stores.
package main

import (
	"os"

	"lexgraph/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
