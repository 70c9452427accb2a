package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rejectReason string

var approveCmd = &cobra.Command{
	Use:   "approve <opportunity-id>",
	Short: "Approve a pending opportunity",
	Long: `Approve a pending opportunity. The decision cascades to every action
the opportunity owns inside one transaction; the actions become visible
to the executor immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := newQueue()
		if err != nil {
			return err
		}
		if err := q.ApproveOpportunity(cmd.Context(), args[0], actor); err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s approved %s\n", green("✓"), args[0])
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <opportunity-id>",
	Short: "Reject a pending opportunity",
	Long: `Reject a pending opportunity. The decision cascades to every action
the opportunity owns inside one transaction.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := newQueue()
		if err != nil {
			return err
		}
		if err := q.RejectOpportunity(cmd.Context(), args[0], actor, rejectReason); err != nil {
			return err
		}
		red := color.New(color.FgRed).SprintFunc()
		fmt.Printf("%s rejected %s\n", red("✗"), args[0])
		return nil
	},
}

func init() {
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "Reason for rejection")
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
}
