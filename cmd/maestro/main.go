package main

import (
	"os"

	"github.com/wonny/maestro/cmd/maestro/commands"
)

// main is the entry point for the Maestro CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/maestro [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
