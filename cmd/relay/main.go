// Package main provides the CLI entry point for the Relay multi-tenant
// autonomous agent runtime.
//
// Relay runs independent agent sessions to completion against a pool of
// LLM providers, a shared Tool Index and Memory Service, and a
// CockroachDB-backed Session Store.
//
// # Basic Usage
//
// Start the server:
//
//	relay serve --config relay.yaml
//
// Manage database migrations:
//
//	relay migrate up
//	relay migrate status
//
// Operate on individual sessions directly against the store:
//
//	relay sessions create --task "summarize the quarterly report"
//	relay sessions get <id>
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// version, commit and date are overridden at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// defaultConfigPath is used when --config is omitted and RELAY_CONFIG
// is unset.
const defaultConfigPath = "relay.yaml"

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command execution failed")
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay - multi-tenant autonomous agent runtime",
		Long: `Relay runs independent agent sessions to completion: each session
carries its own task, conversation context and plan, is routed to an
LLM through a circuit-broken primary/fallback pair, and can call tools
narrowed by a Tool Index over a per-user Memory Service.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildSessionsCmd(),
		buildMigrateCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	if path != "" && path != defaultConfigPath {
		return path
	}
	if env := os.Getenv("RELAY_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}
