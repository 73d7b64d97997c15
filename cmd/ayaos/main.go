// Package main provides the CLI entry point for the AyaOS agent runtime.
//
// AyaOS runs autonomous agents that attach to chat and social platforms.
// This binary owns the agent lifecycle: it provisions the agent's identity
// with the backend, starts the long-lived managers (event stream,
// configuration), and tears everything down on shutdown.
//
// # Basic Usage
//
// Run the default agent:
//
//	ayaos up
//
// Run an agent from a specific data directory with per-user rate limiting:
//
//	ayaos up --data-dir ~/.ayaos/trader --rate-limit 5 --rate-interval minute
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "ayaos",
		Short:         "AyaOS agent runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		buildUpCmd(),
		buildVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
