// commands.go contains the cobra command definitions and their flag
// configurations. Each command builder creates a command and wires it to
// its handler in handlers.go.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildUpCmd creates the "up" command that runs one agent until
// interrupted.
func buildUpCmd() *cobra.Command {
	var opts upOptions

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Run an agent until interrupted",
		Long: `Run an agent from a data directory.

The runtime will:
1. Resolve the data directory (default: ~/.ayaos/default)
2. Load or generate the agent's signing keypair
3. Provision credentials with the backend (cached across runs)
4. Start the event stream and configuration managers
5. Tear everything down on SIGINT/SIGTERM`,
		Example: `  # Run the default agent
  ayaos up

  # Run a dedicated agent with per-user rate limiting
  ayaos up --data-dir ~/.ayaos/trader --rate-limit 5 --rate-interval minute`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.dataDir, "data-dir", "d", "",
		"Agent data directory (default ~/.ayaos/default)")
	cmd.Flags().StringVar(&opts.apiURL, "api-url", "",
		"Backend API base URL")
	cmd.Flags().StringVar(&opts.eventsURL, "events-url", "",
		"Event stream websocket URL")
	cmd.Flags().IntVar(&opts.rateTokens, "rate-limit", 0,
		"Requests allowed per user per interval (0 disables rate limiting)")
	cmd.Flags().StringVar(&opts.rateInterval, "rate-interval", "minute",
		"Rate limit interval: second, minute, hour, day, or a duration like 30s")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "text",
		"Log format: text or json")

	return cmd
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ayaos %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
