// Command papertrader is the paper-trading ledger CLI.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/atmx/paper-ledger/internal/cli"
)

func main() {
	// A missing .env is fine; the environment wins over it either way.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
