package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/overseer/internal/config"
	"github.com/harrison/overseer/internal/engine"
	"github.com/harrison/overseer/internal/planner"
	"github.com/harrison/overseer/internal/platform"
	"github.com/harrison/overseer/internal/store"
)

// loadConfig resolves the config path from the --config flag or the
// overseer home and loads it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildEngine wires the store, platform client, planner, and dispatcher
// into an engine. The caller owns closing the returned store.
func buildEngine(cfg *config.Config, dispatcher engine.Dispatcher, log engine.Logger) (*engine.Engine, *store.Store, error) {
	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open execution store: %w", err)
	}

	client := platform.NewClient(cfg.PlatformURL, cfg.APIToken)

	eng, err := engine.NewEngine(engine.Deps{
		Store:      st,
		Planner:    planner.NewClaudePlanner(cfg.PlannerTimeout),
		Policy:     client,
		Identity:   client,
		Tasks:      client,
		Activities: client,
		Checklist:  client,
		Statuses:   client,
		Dispatcher: dispatcher,
		Logger:     log,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return eng, st, nil
}
