package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/overseer/internal/engine"
	"github.com/harrison/overseer/internal/logger"
)

// NewSweepCommand creates the sweep command
func NewSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation pass",
		Long: `Run a single reconciliation sweep and exit. Jobs triggered by the
sweep (re-analyses, plan resumes, reminders) run inline before the command
returns, so this is suitable for cron-style scheduling.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			log := logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel)
			dispatcher := engine.NewSyncDispatcher(log)
			eng, st, err := buildEngine(cfg, dispatcher, log)
			if err != nil {
				return err
			}
			defer st.Close()
			dispatcher.Bind(eng)

			stats, err := eng.RunSweep(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "examined %d, dispatched %d, reminded %d, finalized %d\n",
				stats.Examined, stats.Dispatched, stats.Reminded, stats.Finalized)
			return nil
		},
	}
}
