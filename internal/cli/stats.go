package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/callsig/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show local database statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	s, err := store.NewSQLiteStore(cfg.LocalDB)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context(), cfg.LocalDB)
	if err != nil {
		exitErr("stats", err)
	}
	printJSON(stats)
}
