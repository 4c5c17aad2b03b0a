package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/job-autofill/internal/fetch"
	"github.com/jonathan/job-autofill/internal/observability"
)

var resolveURLCmd = &cobra.Command{
	Use:   "resolve-url <url>",
	Short: "Follow a job link's redirects to the application page",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolveURL,
}

var resolveMaxRedirects int

func init() {
	resolveURLCmd.Flags().IntVar(&resolveMaxRedirects, "max-redirects", 10, "Maximum number of redirects to follow")
	rootCmd.AddCommand(resolveURLCmd)
}

func runResolveURL(cmd *cobra.Command, args []string) error {
	res, err := fetch.ResolveApplyURL(cmd.Context(), args[0], resolveMaxRedirects)
	if err != nil {
		return err
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintResolution(res)
	return nil
}
