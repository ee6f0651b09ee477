package main

import (
	"fmt"
	"os"

	"github.com/Koiiichi/symphony-lite/internal/cmd"
)

// Version is the current version of the symphony application
const Version = "0.3.0"

func main() {
	cmd.Version = Version
	rootCmd := cmd.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
