package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/job-autofill/internal/profile"
	"github.com/jonathan/job-autofill/internal/review"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show, refresh or forget the applicant profile",
	RunE:  runProfile,
}

var (
	profileRefresh    bool
	profileClearCache bool
)

func init() {
	profileCmd.Flags().BoolVar(&profileRefresh, "refresh", false, "Fetch a fresh profile from the platform")
	profileCmd.Flags().BoolVar(&profileClearCache, "clear-cache", false, "Delete the encrypted local copy")
	rootCmd.AddCommand(profileCmd)
}

func runProfile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a := &app{cfg: cfg, logger: logger, board: review.NewBoard()}
	if err := a.openProfiles(ctx); err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	if profileClearCache {
		if a.cache == nil {
			return errors.New("no profile cache configured (set cache_passphrase)")
		}
		if err := a.cache.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Profile cache cleared.")
		return nil
	}

	var (
		p   *profile.Profile
		err error
	)
	if profileRefresh {
		p, err = a.profiles.Refresh(ctx)
	} else {
		p, err = a.profiles.Get(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Profile:  %s\n", p.Summary())
	fmt.Fprintf(out, "Fetched:  %s\n", a.profiles.FetchedAt().Local().Format(time.RFC1123))
	now := time.Now()
	for _, d := range p.Documents() {
		status := ""
		if d.Expired(now) {
			status = " (expired)"
		}
		fmt.Fprintf(out, "  - %-16s %s%s\n", d.Type, d.FileName, status)
	}
	return nil
}
