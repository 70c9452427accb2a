package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	sweepWatch    bool
	sweepInterval time.Duration
	metricsAddr   string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the measurement sweep",
	Long: `Start tracking for executed-but-untracked actions, expire stale
pending opportunities, and finalize every measurement whose window has
closed. One-shot by default; --watch repeats on an interval. The sweep
is idempotent against itself, so overlapping schedules are safe.

With --metrics-addr, prometheus metrics are exposed while watching.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := newQueue()
		if err != nil {
			return err
		}
		t, err := newTracker()
		if err != nil {
			return err
		}

		runOnce := func() {
			ctx := cmd.Context()

			if n, err := q.ExpireOldOpportunities(ctx); err != nil {
				logger.Warn("expiry sweep failed", zap.Error(err))
			} else if n > 0 {
				fmt.Printf("expired %d\n", n)
			}

			if n, err := t.TrackExecutedActions(ctx); err != nil {
				logger.Warn("tracking sweep failed", zap.Error(err))
			} else if n > 0 {
				fmt.Printf("started tracking %d\n", n)
			}

			if n, err := t.ProcessPendingMeasurements(ctx); err != nil {
				logger.Warn("measurement sweep failed", zap.Error(err))
			} else {
				fmt.Printf("processed %d measurements\n", n)
			}
		}

		if !sweepWatch {
			runOnce()
			return nil
		}

		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			go func() {
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					logger.Error("metrics server stopped", zap.Error(err))
				}
			}()
			logger.Info("serving metrics", zap.String("addr", metricsAddr))
		}

		limiter := rate.NewLimiter(rate.Every(sweepInterval), 1)
		for {
			if err := limiter.Wait(cmd.Context()); err != nil {
				return nil // context canceled
			}
			runOnce()
		}
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepWatch, "watch", false, "Keep sweeping on an interval")
	sweepCmd.Flags().DurationVar(&sweepInterval, "interval", time.Hour, "Interval between sweeps in watch mode")
	sweepCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve prometheus metrics on in watch mode")
	rootCmd.AddCommand(sweepCmd)
}
