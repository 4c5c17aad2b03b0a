package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/job-autofill/internal/server"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the control API",
	RunE:  runToken,
}

var (
	tokenClient string
	tokenTTL    time.Duration
)

func init() {
	tokenCmd.Flags().StringVar(&tokenClient, "client", "cli", "Client name recorded in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", server.DefaultTokenTTL, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	if cfg.ControlSecret == "" {
		return errors.New("control_secret is not configured")
	}
	svc, err := server.NewJWTService(cfg.ControlSecret, tokenTTL)
	if err != nil {
		return err
	}
	token, err := svc.GenerateToken(tokenClient)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
