package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "gems",
		Short: "List gems with stored contracts",
		Run:   runGems,
	}

	RootCmd.AddCommand(cmd)
}

func runGems(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	s, err := openStore(cfg, cfg.NewLogger())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	gems, err := s.RegisteredGems(cmd.Context())
	if err != nil {
		exitErr("gems", err)
	}
	printJSON(gems)
}
