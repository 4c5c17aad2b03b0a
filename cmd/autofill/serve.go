package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/job-autofill/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch a tab and expose the local control API",
	Long: "Run the agent like 'watch' and serve the control API on listen_addr: " +
		"trigger fills, read or dismiss the review, re-draft answers, stream progress and edit settings.",
	RunE: runServe,
}

var _ server.Drafter = (*session)(nil)

var (
	serveTab  string
	serveAddr string
)

func init() {
	serveCmd.Flags().StringVarP(&serveTab, "tab", "t", "", "Substring of the URL of the tab to attach to")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides listen_addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := serveAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}

	srvCfg := server.Config{Addr: addr, Logger: logger}
	if cfg.ControlSecret != "" {
		jwtService, err := server.NewJWTService(cfg.ControlSecret, 0)
		if err != nil {
			return err
		}
		srvCfg.Validator = jwtService.AsTokenValidator()
	} else {
		logger.Warn().Str("addr", addr).Msg("control_secret not set, the control API accepts any local caller")
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	b, page, err := attachTab(ctx, serveTab)
	if err != nil {
		return err
	}
	defer b.Close()

	s := startSession(ctx, a, page, nil)
	defer s.Wait()

	srv := server.New(srvCfg, s, a.board, a.settings, a.profiles)
	defer srv.Close()
	return srv.Start(ctx)
}
