package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sawpanic/derivintel/internal/cache"
	"github.com/sawpanic/derivintel/internal/threshold"
)

// runReloadConfig parses a threshold config file through the same
// Engine.LoadConfig path the live Reloader uses, without needing a
// running process -- useful for validating a file before deploying it.
func runReloadConfig(cmd *cobra.Command, args []string) error {
	path := args[0]

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	engine := threshold.New(cache.New())
	if err := engine.LoadConfig(raw); err != nil {
		return fmt.Errorf("%s is not a valid threshold config: %w", path, err)
	}

	fmt.Printf("%s is valid, generation %d\n", path, engine.Generation())
	return nil
}
