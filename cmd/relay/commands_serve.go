package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the session
// worker pool against the configured database, LLM providers and Vector
// Store. There is no HTTP/gRPC façade implemented in this tree — "serve"
// runs the backend loop that a façade would sit in front of.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session worker pool",
		Long: `Start Relay's session worker pool.

The process will:
1. Load configuration from the specified file.
2. Open the Session Store, job queue and Key Resolver database
   connections.
3. Construct the Router, Memory Service, Tool Index and Agent Loop.
4. Start the worker pool, claiming queued jobs and running one Agent
   Loop instance per session.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  relay serve

  # Start with a specific config file
  relay serve --config /etc/relay/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd, configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}
