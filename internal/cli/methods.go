package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/callsig/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "methods CLASS",
		Short: "List methods of a class",
		Args:  cobra.ExactArgs(1),
		Run:   runMethods,
	}

	cmd.Flags().StringP("gem", "g", "", "Gem of the class (name@version)")
	cmd.Flags().Bool("closest", false, "Use the closest registered version of the gem")
	cmd.Flags().Bool("names-only", false, "Only output method names")

	RootCmd.AddCommand(cmd)
}

func runMethods(cmd *cobra.Command, args []string) {
	gemArg, _ := cmd.Flags().GetString("gem")
	closest, _ := cmd.Flags().GetBool("closest")
	namesOnly, _ := cmd.Flags().GetBool("names-only")

	cfg := loadConfig()
	s, err := openStore(cfg, cfg.NewLogger())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	g, err := resolveGem(cmd, s, gemArg, closest)
	if err != nil {
		exitErr("gem", err)
	}
	class := model.ClassInfo{FQN: args[0]}
	if !g.IsZero() {
		class.Gem = &g
	}
	methods, err := s.RegisteredMethods(cmd.Context(), class)
	if err != nil {
		exitErr("methods", err)
	}

	if namesOnly {
		for _, m := range methods {
			fmt.Println(m.Name)
		}
		return
	}
	printJSON(methods)
}
