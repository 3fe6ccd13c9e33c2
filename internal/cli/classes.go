package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/rcliao/callsig/internal/model"
	"github.com/rcliao/callsig/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "classes [GEM]",
		Short: "List classes of a gem",
		Long: "List classes with stored contracts for GEM (name@version). Without GEM, classes " +
			"outside any gem are listed. --closest falls back to the nearest registered version.",
		Args: cobra.MaximumNArgs(1),
		Run:  runClasses,
	}

	cmd.Flags().Bool("closest", false, "Use the closest registered version of the gem")

	RootCmd.AddCommand(cmd)
}

// resolveGem parses the gem argument and, with closest set, maps it to the
// nearest registered version.
func resolveGem(cmd *cobra.Command, s store.Store, arg string, closest bool) (model.GemInfo, error) {
	g, err := parseGem(arg)
	if err != nil || !closest || g.IsZero() {
		return g, err
	}
	found, err := s.ClosestRegisteredGem(cmd.Context(), g)
	if err != nil {
		return g, err
	}
	if found == nil {
		return g, errors.New("no registered version of " + g.Name)
	}
	return *found, nil
}

func runClasses(cmd *cobra.Command, args []string) {
	closest, _ := cmd.Flags().GetBool("closest")
	var arg string
	if len(args) == 1 {
		arg = args[0]
	}

	cfg := loadConfig()
	s, err := openStore(cfg, cfg.NewLogger())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	g, err := resolveGem(cmd, s, arg, closest)
	if err != nil {
		exitErr("gem", err)
	}
	classes, err := s.RegisteredClasses(cmd.Context(), g)
	if err != nil {
		exitErr("classes", err)
	}
	printJSON(classes)
}
