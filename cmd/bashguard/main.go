package main

import (
	"os"

	"github.com/gzhole/bashguard/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		cli.Diagnostics().Error(err)
		os.Exit(1)
	}
}
