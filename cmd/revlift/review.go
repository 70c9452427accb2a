package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Interactively review pending opportunities",
	Long: `Walk the pending queue one opportunity at a time and approve, reject,
or skip each. The queue is re-read after every decision so concurrently
created opportunities show up in the same session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := newQueue()
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		rl, err := readline.NewEx(&readline.Config{
			Prompt:          cyan("review> "),
			InterruptPrompt: "^C",
			EOFPrompt:       "quit",
		})
		if err != nil {
			return fmt.Errorf("failed to create readline: %w", err)
		}
		defer rl.Close()

		skipped := map[string]bool{}

		for {
			opps, err := q.GetPendingOpportunities(cmd.Context(), 0)
			if err != nil {
				return err
			}

			var next *struct{ idx int }
			for i, opp := range opps {
				if !skipped[opp.ID] {
					next = &struct{ idx int }{i}
					break
				}
			}
			if next == nil {
				fmt.Printf("%s\n", gray("Nothing left to review"))
				return nil
			}

			opp := opps[next.idx]
			fmt.Println()
			printOpportunity(opp)
			fmt.Printf("%s\n", gray("[a]pprove  [r]eject  [s]kip  [q]uit"))

			line, err := rl.Readline()
			if err != nil {
				if err == readline.ErrInterrupt {
					continue
				}
				if err == io.EOF {
					return nil
				}
				return err
			}

			switch strings.ToLower(strings.TrimSpace(line)) {
			case "a", "approve":
				if err := q.ApproveOpportunity(cmd.Context(), opp.ID, actor); err != nil {
					fmt.Printf("%s %v\n", red("Error:"), err)
					continue
				}
				fmt.Printf("%s approved\n", green("✓"))
			case "r", "reject":
				fmt.Print("reason: ")
				reason, rerr := rl.Readline()
				if rerr != nil {
					reason = ""
				}
				if err := q.RejectOpportunity(cmd.Context(), opp.ID, actor, strings.TrimSpace(reason)); err != nil {
					fmt.Printf("%s %v\n", red("Error:"), err)
					continue
				}
				fmt.Printf("%s rejected\n", red("✗"))
			case "s", "skip":
				skipped[opp.ID] = true
			case "q", "quit", "exit":
				return nil
			default:
				fmt.Printf("%s\n", gray("a/r/s/q"))
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}
