package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/revlift/revlift/internal/types"
)

var pendingLimit int

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List opportunities awaiting review",
	Long: `List non-expired pending opportunities, highest priority first, with
their actions. This is the human review queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := newQueue()
		if err != nil {
			return err
		}

		opps, err := q.GetPendingOpportunities(cmd.Context(), pendingLimit)
		if err != nil {
			return err
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		if len(opps) == 0 {
			fmt.Printf("%s\n", gray("No pending opportunities"))
			return nil
		}

		for _, opp := range opps {
			printOpportunity(opp)
			fmt.Println()
		}
		fmt.Printf("%d pending\n", len(opps))
		return nil
	},
}

func printOpportunity(opp *types.Opportunity) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("%s %s\n", cyan(opp.ID), opp.Title)
	fmt.Printf("  %s %s", gray("type:"), opp.OpportunityType)
	fmt.Printf("  %s %d", gray("priority:"), opp.Priority)
	fmt.Printf("  %s %s\n", gray("confidence:"), opp.Confidence)
	if opp.PageURL != "" {
		fmt.Printf("  %s %s\n", gray("page:"), opp.PageURL)
	}
	if opp.EstimatedRevenueImpact != nil {
		fmt.Printf("  %s $%s/mo\n", gray("estimated impact:"), opp.EstimatedRevenueImpact)
	}
	if opp.ExpiresAt != nil {
		fmt.Printf("  %s %s\n", gray("expires:"), opp.ExpiresAt.Format("2006-01-02"))
	}
	for _, a := range opp.Actions {
		fmt.Printf("  %s %s %s\n", yellow("→"), a.ActionType, gray(a.ID))
	}
}

func init() {
	pendingCmd.Flags().IntVar(&pendingLimit, "limit", 20, "Maximum opportunities to list")
	rootCmd.AddCommand(pendingCmd)
}
