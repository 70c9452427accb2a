package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	preMetricsJSON  string
	postMetricsJSON string
	startTracking   bool
)

var executedCmd = &cobra.Command{
	Use:   "executed <action-id>",
	Short: "Report an action as executed",
	Long: `Record that an approved action has been performed. When the last
action of an opportunity executes, the opportunity is promoted to
implemented in the same transaction. With --track, impact measurement is
started immediately; otherwise the next sweep picks the action up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := newQueue()
		if err != nil {
			return err
		}

		if err := q.MarkActionExecuted(cmd.Context(), args[0], []byte(preMetricsJSON), []byte(postMetricsJSON)); err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s executed %s\n", green("✓"), args[0])

		if startTracking {
			t, err := newTracker()
			if err != nil {
				return err
			}
			measurementID, err := t.StartTracking(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if measurementID != "" {
				fmt.Printf("%s tracking %s\n", green("✓"), measurementID)
			}
		}
		return nil
	},
}

func init() {
	executedCmd.Flags().StringVar(&preMetricsJSON, "pre", "", "Pre-execution metric snapshot (JSON)")
	executedCmd.Flags().StringVar(&postMetricsJSON, "post", "", "Post-execution metric snapshot (JSON)")
	executedCmd.Flags().BoolVar(&startTracking, "track", true, "Start impact tracking immediately")
	rootCmd.AddCommand(executedCmd)
}
