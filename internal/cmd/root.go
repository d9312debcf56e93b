// Package cmd contains the overseer command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for overseer
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overseer",
		Short: "Autonomous task execution agent",
		Long: `Overseer runs an autonomous agent against a task platform. When tasks
are assigned to the agent account, overseer analyzes them, drafts execution
plans, asks clarifying questions, requests confirmation for risky steps,
and executes approved plans while reporting progress as task comments.

State lives in a local SQLite database so every execution survives
restarts and resumes where it left off.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "path to config file (default: $OVERSEER_HOME/config.yaml)")

	cmd.AddCommand(NewMonitorCommand())
	cmd.AddCommand(NewSweepCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewPruneCommand())

	return cmd
}
