package main

import (
	"os"

	"github.com/austindbirch/sol_hook/cmd/solhookctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
