package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/overseer/internal/models"
	"github.com/harrison/overseer/internal/store"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	var all bool
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List executions and their state",
		Long: `List task executions from the local database, most recently updated
first. By default only in-flight executions are shown; --all includes
completed and failed ones.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			st, err := store.NewStore(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open execution store: %w", err)
			}
			defer st.Close()

			execs, err := st.ListTaskExecutions(cmd.Context(), !all, limit)
			if err != nil {
				return err
			}
			if len(execs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no executions")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tSTATUS\tSTEPS\tRETRIES\tNEXT CHECK\tUPDATED")
			for _, exec := range execs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					exec.TaskID,
					exec.Status,
					stepProgress(exec.Plan),
					exec.RetryCount,
					formatNextCheck(exec.NextCheckAt),
					exec.UpdatedAt.Local().Format("2006-01-02 15:04"),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include completed and failed executions")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum executions to list (0 = no limit)")

	return cmd
}

func stepProgress(plan []models.PlanStep) string {
	if len(plan) == 0 {
		return "-"
	}
	done := 0
	for _, step := range plan {
		if step.Status == models.StepCompleted {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(plan))
}

func formatNextCheck(at *time.Time) string {
	if at == nil {
		return "-"
	}
	return at.Local().Format("2006-01-02 15:04")
}
