package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events <opportunity-id>",
	Short: "Show the audit trail for an opportunity",
	Long: `Show the audit trail for an opportunity, newest first. Every lifecycle
transition is recorded with its actor and timestamp.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := newQueue()
		if err != nil {
			return err
		}

		events, err := q.GetEvents(cmd.Context(), args[0], eventsLimit)
		if err != nil {
			return err
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		if len(events) == 0 {
			fmt.Printf("%s\n", gray("No events"))
			return nil
		}

		for _, ev := range events {
			fmt.Printf("%s %s %s", gray(ev.CreatedAt.Format("2006-01-02 15:04:05")), yellow(ev.EventType), ev.Actor)
			if ev.OldValue != nil && ev.NewValue != nil {
				fmt.Printf(" (%s → %s)", *ev.OldValue, *ev.NewValue)
			}
			if ev.Comment != nil && *ev.Comment != "" {
				fmt.Printf("  %s", gray(*ev.Comment))
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "Maximum events to show")
	rootCmd.AddCommand(eventsCmd)
}
