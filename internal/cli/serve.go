package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/callsig/internal/server"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept call records from agents",
		Long: "Listen for instrumentation agents. Each connection sends one JSON call record per line; " +
			"new learnings are stored when the connection ends.",
		Run: runServe,
	}

	cmd.Flags().StringP("listen", "l", "", "Listen address (overrides listen)")
	cmd.Flags().String("metrics-listen", "", "Serve /metrics on this address (overrides metrics_listen)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Listen = v
	}
	if v, _ := cmd.Flags().GetString("metrics-listen"); v != "" {
		cfg.MetricsListen = v
	}
	if err := cfg.Validate(); err != nil {
		exitErr("config", err)
	}
	logger := cfg.NewLogger()

	s, err := openStore(cfg, logger)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, server.Options{Addr: cfg.Listen, MetricsAddr: cfg.MetricsListen}, s, logger)
	if err != nil {
		exitErr("start server", err)
	}
	if err := srv.ListenAndServe(ctx); err != nil {
		exitErr("serve", err)
	}
	logger.Info("server stopped")
}
