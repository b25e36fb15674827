package main

import (
	"os"

	"github.com/davidmoltin/ai-action-queue/cmd/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
