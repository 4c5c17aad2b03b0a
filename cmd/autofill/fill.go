package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/job-autofill/internal/browser"
	"github.com/jonathan/job-autofill/internal/observability"
	"github.com/jonathan/job-autofill/internal/types"
)

var fillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Fill the application form in an open browser tab once",
	Long: "Attach to the browser at cdp_url, pick the tab whose URL contains --tab " +
		"(or the first tab), fill it from your profile and print the review summary. " +
		"Nothing is ever submitted.",
	RunE: runFill,
}

var fillTab string

func init() {
	fillCmd.Flags().StringVarP(&fillTab, "tab", "t", "", "Substring of the URL of the tab to fill")
	rootCmd.AddCommand(fillCmd)
}

func runFill(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	b, page, err := attachTab(ctx, fillTab)
	if err != nil {
		return err
	}
	defer b.Close()

	report, err := a.runner(page).Run(ctx, types.TriggerManual)
	observability.NewPrinter(cmd.OutOrStdout()).PrintRunReport(report)
	if err != nil {
		return fmt.Errorf("autofill run failed: %w", err)
	}
	return nil
}

// attachTab connects to the configured browser and attaches to one tab.
func attachTab(ctx context.Context, match string) (*browser.Browser, *browser.Page, error) {
	b, err := browser.Connect(ctx, cfg.CDPURL, logger)
	if err != nil {
		return nil, nil, err
	}
	page, err := b.Attach(ctx, match)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return b, page, nil
}
