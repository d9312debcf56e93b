package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/overseer/internal/config"
	"github.com/harrison/overseer/internal/engine"
	"github.com/harrison/overseer/internal/filelock"
	"github.com/harrison/overseer/internal/logger"
)

// NewMonitorCommand creates the monitor command
func NewMonitorCommand() *cobra.Command {
	var sweepInterval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the monitor daemon",
		Long: `Run the long-lived monitor daemon: a job queue with workers plus a
periodic reconciliation sweep over every execution that is due a check.

Only one daemon may run against a database at a time; the daemon takes an
exclusive lock file in the overseer home and refuses to start if another
instance holds it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if sweepInterval > 0 {
				cfg.SweepInterval = sweepInterval
			}
			return runMonitor(cmd, cfg)
		},
	}

	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 0, "override the sweep interval (e.g. 30m)")

	return cmd
}

func runMonitor(cmd *cobra.Command, cfg *config.Config) error {
	home, err := config.GetOverseerHome()
	if err != nil {
		return err
	}

	lock := filelock.New(filepath.Join(home, "overseer.lock"))
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	console := logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel)
	fileLog, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer fileLog.Close()
	log := logger.NewTee(console, fileLog)

	dispatcher := engine.NewQueueDispatcher(cfg.QueueSize, log)
	eng, st, err := buildEngine(cfg, dispatcher, log)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher.Start(ctx, eng, cfg.Workers)
	defer dispatcher.Stop()

	if cfg.Retention.KeepTerminalDays > 0 {
		go pruneLoop(ctx, st, log, cfg.Retention.KeepTerminalDays)
	}

	log.LogInfo(fmt.Sprintf("monitor started, sweeping every %s", cfg.SweepInterval))
	if err := eng.RunMonitor(ctx, cfg.SweepInterval); err != nil && ctx.Err() == nil {
		return err
	}
	log.LogInfo("monitor shutting down")
	return nil
}

// pruneLoop removes old terminal executions once a day.
func pruneLoop(ctx context.Context, st pruner, log engine.Logger, keepDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		cutoff := time.Now().AddDate(0, 0, -keepDays)
		removed, err := st.PruneTerminalExecutions(ctx, cutoff)
		if err != nil {
			log.LogWarn(fmt.Sprintf("prune terminal executions: %v", err))
		} else if removed > 0 {
			log.LogInfo(fmt.Sprintf("pruned %d finished executions older than %d days", removed, keepDays))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type pruner interface {
	PruneTerminalExecutions(ctx context.Context, olderThan time.Time) (int64, error)
}
