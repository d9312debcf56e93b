package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/overseer/internal/store"
)

// NewPruneCommand creates the prune command
func NewPruneCommand() *cobra.Command {
	var keepDays int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old finished executions",
		Long: `Delete completed and failed executions older than the retention
window. The window defaults to retention.keep_terminal_days from the
config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if keepDays < 0 {
				return fmt.Errorf("--keep-days must be >= 0, got %d", keepDays)
			}
			if !cmd.Flags().Changed("keep-days") {
				keepDays = cfg.Retention.KeepTerminalDays
			}
			if keepDays == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "retention disabled, nothing to prune")
				return nil
			}

			st, err := store.NewStore(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open execution store: %w", err)
			}
			defer st.Close()

			cutoff := time.Now().AddDate(0, 0, -keepDays)
			removed, err := st.PruneTerminalExecutions(cmd.Context(), cutoff)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d executions finished before %s\n",
				removed, cutoff.Format("2006-01-02"))
			return nil
		},
	}

	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "override the retention window in days")

	return cmd
}
