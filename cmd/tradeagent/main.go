package main

import (
	"os"

	"github.com/rustyeddy/tradeagent/cmd/tradeagent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
