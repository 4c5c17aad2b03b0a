package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep a tab filled as you browse",
	Long: "Attach to one tab, show the autofill button and, when automatic detection " +
		"is on, fill every application page the tab loads and every field that appears " +
		"later. Runs until interrupted.",
	RunE: runWatch,
}

var watchTab string

func init() {
	watchCmd.Flags().StringVarP(&watchTab, "tab", "t", "", "Substring of the URL of the tab to watch")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	b, page, err := attachTab(ctx, watchTab)
	if err != nil {
		return err
	}
	defer b.Close()

	s := startSession(ctx, a, page, cmd.OutOrStdout())
	logger.Info().Str("url", page.URL()).Msg("watching tab, press Ctrl+C to stop")
	<-ctx.Done()
	s.Wait()
	return nil
}
