package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var trackCmd = &cobra.Command{
	Use:   "track <action-id>",
	Short: "Start impact tracking for an executed action",
	Long: `Capture the pre-execution baseline for an executed action and schedule
its post-execution measurement. An action that has not executed yet is
reported as not eligible, not an error; an action already tracked
reports its existing measurement.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := newTracker()
		if err != nil {
			return err
		}

		measurementID, err := t.StartTracking(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if measurementID == "" {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("%s\n", gray("action not yet executed; nothing to track"))
			return nil
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %s\n", green("✓"), measurementID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trackCmd)
}
