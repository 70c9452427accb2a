package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/revlift/revlift/internal/config"
	"github.com/revlift/revlift/internal/metrics"
	"github.com/revlift/revlift/internal/queue"
	"github.com/revlift/revlift/internal/storage"
	"github.com/revlift/revlift/internal/tracker"
)

var (
	dbPath     string
	actor      string
	configPath string
	verbose    bool

	store    storage.Storage
	logger   *zap.Logger
	registry *prometheus.Registry
	bundle   *metrics.Metrics
)

var rootCmd = &cobra.Command{
	Use:   "revlift",
	Short: "Monetization opportunity queue and impact tracker",
	Long: `revlift manages the lifecycle of detected monetization opportunities:
human-gated approval of opportunities and their actions, an executor
poll surface, and before/after impact measurement of executed changes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if verbose {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		registry = prometheus.NewRegistry()
		bundle = metrics.New(registry)

		store, err = storage.NewStorage(cmd.Context(), &storage.Config{Path: dbPath})
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", ".revlift/revlift.db", "Path to the revlift database")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "Actor recorded on audit events")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".revlift/measurements.yaml", "Measurement window overrides (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "revlift"
}

// newQueue builds the queue component from the shared CLI state
func newQueue() (*queue.Queue, error) {
	return queue.New(store, config.DefaultQueueConfig(), logger, bundle)
}

// newTracker builds the tracker component from the shared CLI state
func newTracker() (*tracker.Tracker, error) {
	windows, err := config.LoadMeasurementConfigs(configPath)
	if err != nil {
		return nil, err
	}
	return tracker.New(store, windows, config.DefaultQueueConfig(), logger, bundle)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
