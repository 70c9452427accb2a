package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/revlift/revlift/internal/types"
)

var statsRecent int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue and impact statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := newQueue()
		if err != nil {
			return err
		}
		t, err := newTracker()
		if err != nil {
			return err
		}

		stats, err := q.GetQueueStats(cmd.Context())
		if err != nil {
			return err
		}
		summary, err := t.GetImpactSummary(cmd.Context())
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("%s\n", cyan("Queue"))
		fmt.Printf("  pending:     %d\n", stats.Pending)
		fmt.Printf("  approved:    %d\n", stats.Approved)
		fmt.Printf("  rejected:    %d\n", stats.Rejected)
		fmt.Printf("  implemented: %d\n", stats.Implemented)
		fmt.Printf("  expired:     %d\n", stats.Expired)
		fmt.Printf("  %s $%s/mo\n", gray("pending estimated revenue:"), stats.PendingEstimatedRevenue)
		fmt.Println()

		fmt.Printf("%s\n", cyan("Impact"))
		fmt.Printf("  measurements: %d (%d pending, %d complete, %d inconclusive)\n",
			summary.TotalMeasurements, summary.Pending, summary.Complete, summary.Inconclusive)
		fmt.Printf("  %s $%s/mo\n", gray("verified revenue impact:"), summary.TotalRevenueImpact)
		if summary.Complete > 0 {
			fmt.Printf("  %s %s\n", gray("average prediction accuracy:"), summary.AverageAccuracy.Round(3))
		}

		if statsRecent > 0 {
			recent, err := t.GetRecentMeasurements(cmd.Context(), statsRecent)
			if err != nil {
				return err
			}
			if len(recent) > 0 {
				fmt.Println()
				fmt.Printf("%s\n", cyan("Recent measurements"))
				for _, m := range recent {
					fmt.Printf("  %s %s %s", yellow(m.ID), m.Metric, m.Status)
					if m.Status != types.MeasurementPending {
						fmt.Printf(" (impact $%s/mo)", m.RevenueImpact)
					}
					fmt.Println()
				}
			}
		}

		return nil
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsRecent, "recent", 5, "Number of recent measurements to show (0 to hide)")
	rootCmd.AddCommand(statsCmd)
}
