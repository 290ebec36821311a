package main

import (
	"github.com/spf13/cobra"
)

// buildSessionsCmd creates the "sessions" command group: thin wrappers
// that exercise the Session Store's operations directly, useful for
// local development absent the full REST façade.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Operate on sessions directly against the Session Store",
	}

	cmd.AddCommand(
		buildSessionsCreateCmd(),
		buildSessionsGetCmd(),
		buildSessionsPauseCmd(),
		buildSessionsResumeCmd(),
		buildSessionsAbortCmd(),
	)
	return cmd
}

func buildSessionsCreateCmd() *cobra.Command {
	var (
		configPath string
		task       string
		owner      string
		enqueue    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new session",
		Long: `Insert a new PENDING session row and, unless --enqueue=false is passed,
enqueue it on the job queue so a running "relay serve" worker picks it
up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runSessionsCreate(cmd, configPath, task, owner, enqueue)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&task, "task", "", "Task description for the new session (required)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owning user id (omit for an unowned session)")
	cmd.Flags().BoolVar(&enqueue, "enqueue", true, "Enqueue the session on the job queue after creating it")
	cmd.MarkFlagRequired("task")
	return cmd
}

func buildSessionsGetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a session's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runSessionsGet(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildSessionsPauseCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a running session",
		Long: `Set a session's status to PAUSED. A worker already running the
session's Agent Loop polls for this transition and blocks until it is
resumed or aborted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runSessionsPause(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildSessionsResumeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runSessionsResume(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildSessionsAbortCmd() *cobra.Command {
	var (
		configPath string
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "abort <id>",
		Short: "Abort a session",
		Long: `Mark a session FAILED with reason, regardless of its current
status. There is no dedicated ABORTED status: an operator abort and a
loop failure are both terminal failures.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runSessionsAbort(cmd, configPath, args[0], reason)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&reason, "reason", "aborted by operator", "Recorded as the session's error_message")
	return cmd
}
