package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/job-autofill/internal/observability"
	"github.com/jonathan/job-autofill/internal/patterns"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns [industry]",
	Short: "List industry packs or show the active field patterns",
	Long: "Without arguments, list the available industry packs. With an industry id, " +
		"print the pattern set the classifier would use for it.",
	Args: cobra.MaximumNArgs(1),
	RunE: runPatterns,
}

func init() {
	rootCmd.AddCommand(patternsCmd)
}

func runPatterns(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		for _, p := range patterns.GetAvailableProfiles() {
			fmt.Fprintf(out, "%-12s %-20s %s\n", p.ID, p.DisplayName, p.Description)
		}
		return nil
	}

	industry := args[0]
	if !patterns.Known(industry) {
		return fmt.Errorf("unknown industry %q (run 'autofill patterns' to list them)", industry)
	}
	observability.NewPrinter(out).PrintPatterns(industry, patterns.GetActiveFieldPatterns(industry))
	return nil
}
