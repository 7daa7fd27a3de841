package main

import (
	"os"

	"veilroom/cmd/veilroom/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
