package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire stale pending opportunities",
	Long: `Transition pending opportunities whose expiry has passed to expired.
Idempotent and safe to run on any schedule; approved, rejected and
implemented opportunities are never touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := newQueue()
		if err != nil {
			return err
		}
		n, err := q.ExpireOldOpportunities(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("expired %d\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(expireCmd)
}
