package main

import (
	"os"

	"github.com/riskops/amlguard/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
