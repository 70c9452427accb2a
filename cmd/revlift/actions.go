package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var actionsJSON bool

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List approved actions awaiting execution",
	Long: `List approved, not-yet-executed actions with their parent opportunity
summaries. This is the surface an external executor polls; --json emits
machine-readable output for executor scripts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := newQueue()
		if err != nil {
			return err
		}

		actions, err := q.GetApprovedActions(cmd.Context())
		if err != nil {
			return err
		}

		if actionsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(actions)
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		if len(actions) == 0 {
			fmt.Printf("%s\n", gray("No approved actions waiting"))
			return nil
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		for _, a := range actions {
			fmt.Printf("%s %s\n", yellow(a.ID), a.ActionType)
			fmt.Printf("  %s %s (%s)\n", gray("opportunity:"), a.OpportunityTitle, a.OpportunityID)
			if a.PageURL != "" {
				fmt.Printf("  %s %s\n", gray("page:"), a.PageURL)
			}
		}
		fmt.Printf("%d waiting\n", len(actions))
		return nil
	},
}

func init() {
	actionsCmd.Flags().BoolVar(&actionsJSON, "json", false, "Emit JSON")
	rootCmd.AddCommand(actionsCmd)
}
