package main

import (
	"os"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
