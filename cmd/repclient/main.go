package main

import (
	"os"

	"github.com/mossy-p/repsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
