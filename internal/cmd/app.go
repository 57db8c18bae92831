package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcastle/foreman/internal/config"
	"github.com/rcastle/foreman/internal/coordinator"
	"github.com/rcastle/foreman/internal/events"
	"github.com/rcastle/foreman/internal/logger"
	"github.com/rcastle/foreman/internal/recovery"
	"github.com/rcastle/foreman/internal/state"
)

// app bundles the dependencies every subcommand needs, built once from
// config and flags.
type app struct {
	cfg         *config.Config
	log         logger.Logger
	store       *state.Store
	events      *events.Store
	coordinator *coordinator.Coordinator
	checkpoint  recovery.Checkpointer
	handler     *recovery.Handler
	json        bool
}

// newApp loads configuration, applies flag overrides, and wires the
// coordination stack. The sqlite event sink is best-effort: a failure to
// open it degrades to no event recording rather than blocking coordination.
func newApp(cmd *cobra.Command) (*app, error) {
	var cfg *config.Config
	var err error

	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
	} else {
		cfg, err = config.LoadConfigFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var stateDir, logLevel *string
	if cmd.Flags().Changed("state-dir") {
		v, _ := cmd.Flags().GetString("state-dir")
		stateDir = &v
	}
	if cmd.Flags().Changed("log-level") {
		v, _ := cmd.Flags().GetString("log-level")
		logLevel = &v
	}
	var maxWorkers *int
	if cmd.Flags().Changed("max-workers") {
		v, _ := cmd.Flags().GetInt("max-workers")
		maxWorkers = &v
	}
	var workerTimeout *time.Duration
	if cmd.Flags().Changed("worker-timeout") {
		v, _ := cmd.Flags().GetDuration("worker-timeout")
		workerTimeout = &v
	}
	cfg.MergeWithFlags(maxWorkers, workerTimeout, stateDir, logLevel)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.NewConsoleLogger(os.Stderr, cfg.LogLevel)

	a := &app{
		cfg:   cfg,
		log:   log,
		store: state.NewStore(cfg.StateDir),
	}
	a.json, _ = cmd.Flags().GetBool("json")

	sink, err := events.NewStore(cfg.EventsDB)
	if err != nil {
		log.Warnf("event sink unavailable, continuing without event recording: %v", err)
	} else {
		a.events = sink
	}

	var emitter events.Emitter = events.NoOpEmitter{}
	if a.events != nil {
		emitter = a.events
	}
	a.coordinator = coordinator.New(a.store, emitter, log)

	a.checkpoint = recovery.NewGitCheckpointer(cfg.StateDir, cfg.Recovery.CheckpointPrefix)
	a.handler = recovery.NewHandler(a.store, a.checkpoint, emitter, log, cfg.Recovery)

	return a, nil
}

// close releases the event sink.
func (a *app) close() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.log.Warnf("failed to close event sink: %v", err)
		}
	}
}

// print writes v as indented JSON when --json is set, otherwise calls the
// human formatter.
func (a *app) print(cmd *cobra.Command, v any, human func()) error {
	if a.json {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	human()
	return nil
}
