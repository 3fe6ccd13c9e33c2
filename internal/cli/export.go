package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/callsig/internal/model"
	"github.com/rcliao/callsig/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export DIR",
		Short: "Export learned contracts as .rmc files",
		Long: "Write one .rmc file per gem into DIR. With a received baseline configured only local " +
			"learnings are exported. Restrict gems with --only or --skip (name@version, - for local code).",
		Args: cobra.ExactArgs(1),
		Run:  runExport,
	}

	cmd.Flags().StringSlice("only", nil, "Export only these gems")
	cmd.Flags().StringSlice("skip", nil, "Skip these gems")
	cmd.MarkFlagsMutuallyExclusive("only", "skip")

	RootCmd.AddCommand(cmd)
}

func exportFilter(cmd *cobra.Command) (*store.ExportFilter, error) {
	only, _ := cmd.Flags().GetStringSlice("only")
	skip, _ := cmd.Flags().GetStringSlice("skip")
	names, include := skip, false
	if len(only) > 0 {
		names, include = only, true
	}
	if len(names) == 0 {
		return nil, nil
	}
	f := &store.ExportFilter{Include: include, Gems: make([]model.GemInfo, 0, len(names))}
	for _, n := range names {
		g, err := parseGem(n)
		if err != nil {
			return nil, err
		}
		f.Gems = append(f.Gems, g)
	}
	return f, nil
}

func runExport(cmd *cobra.Command, args []string) {
	filter, err := exportFilter(cmd)
	if err != nil {
		exitErr("filter", err)
	}
	cfg := loadConfig()
	s, err := openStore(cfg, cfg.NewLogger())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	files, err := store.ExportDir(cmd.Context(), s, args[0], filter)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(map[string]any{"ok": true, "dir": args[0], "files": files})
}
