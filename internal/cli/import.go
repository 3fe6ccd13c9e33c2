package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/callsig/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import DIR",
		Short: "Import .rmc files",
		Long: "Store every contract found in the .rmc files of DIR. With a received baseline configured " +
			"the files become part of the baseline unless --local is given.",
		Args: cobra.ExactArgs(1),
		Run:  runImport,
	}

	cmd.Flags().Bool("local", false, "Import into the local store even when a baseline is configured")

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	local, _ := cmd.Flags().GetBool("local")

	cfg := loadConfig()
	s, err := openStore(cfg, cfg.NewLogger())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	target := s
	if d, ok := s.(*store.DiffStore); ok {
		target = d.Received()
		if local {
			target = d.Local()
		}
	}
	n, err := store.ImportDir(cmd.Context(), target, args[0])
	if err != nil {
		exitErr("import", err)
	}
	printJSON(map[string]any{"ok": true, "imported": n})
}
