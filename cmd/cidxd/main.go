package main

import (
	"os"

	"github.com/cidx-dev/cidx/cmd/cidxd/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
