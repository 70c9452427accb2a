package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/revlift/revlift/internal/types"
)

var createCmd = &cobra.Command{
	Use:   "create [file]",
	Short: "Create an opportunity from a JSON payload",
	Long: `Create an opportunity together with its actions from a JSON payload.

Reads from the given file, or stdin when no file is given. This is the
surface detector scripts use. Duplicate detections for the same page and
opportunity type fold into the existing pending opportunity.

Example payload:

  {
    "opportunity_type": "ADD_AFFILIATE_LINK",
    "title": "Add affiliate link to /mods/x",
    "confidence": "0.8",
    "page_url": "/mods/x",
    "estimated_revenue_impact": "120",
    "actions": [
      {"action_type": "ADD_AFFILIATE_LINK", "action_data": {"product": "sku-123"}}
    ]
  }`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if len(args) == 1 {
			data, err = os.ReadFile(args[0])
		} else {
			data, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}

		var input types.CreateOpportunityInput
		if err := json.Unmarshal(data, &input); err != nil {
			return fmt.Errorf("failed to parse payload: %w", err)
		}

		q, err := newQueue()
		if err != nil {
			return err
		}

		id, err := q.CreateOpportunity(cmd.Context(), &input, actor)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %s\n", green("✓"), id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
}
