package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rcliao/callsig/internal/contract"
	"github.com/rcliao/callsig/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "show CLASS METHOD",
		Short: "Print the learned contract of a method",
		Long: "Print every argument tuple the stored contract accepts, with the return types seen for it. " +
			"All definitions of METHOD in CLASS are shown.",
		Args: cobra.ExactArgs(2),
		Run:  runShow,
	}

	cmd.Flags().StringP("gem", "g", "", "Gem of the class (name@version)")
	cmd.Flags().Bool("closest", false, "Use the closest registered version of the gem")
	cmd.Flags().IntP("limit", "l", 50, "Max tuples per method (0 for all)")

	RootCmd.AddCommand(cmd)
}

var (
	headingColor = color.New(color.FgCyan, color.Bold)
	paramColor   = color.New(color.Faint)
)

func writeContract(w io.Writer, m model.MethodInfo, c *contract.Contract, limit int) {
	headingColor.Fprintln(w, m.String())
	params := make([]string, len(c.Params()))
	for i, p := range c.Params() {
		params[i] = p.Modifier.String()
		if p.Name != "" {
			params[i] += " " + p.Name
		}
	}
	paramColor.Fprintf(w, "  params: %s\n", strings.Join(params, ", "))
	lines := c.Lines(limit)
	for _, l := range lines {
		fmt.Fprintf(w, "  %s\n", l)
	}
	if limit > 0 && len(lines) == limit {
		paramColor.Fprintln(w, "  ...")
	}
}

func runShow(cmd *cobra.Command, args []string) {
	gemArg, _ := cmd.Flags().GetString("gem")
	closest, _ := cmd.Flags().GetBool("closest")
	limit, _ := cmd.Flags().GetInt("limit")

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

	out := cmd.OutOrStdout()
	shown := 0
	for _, m := range methods {
		if m.Name != args[1] {
			continue
		}
		c, err := s.Signature(cmd.Context(), m)
		if err != nil {
			exitErr("signature", err)
		}
		if c == nil {
			continue
		}
		writeContract(out, m, c, limit)
		shown++
	}
	if shown == 0 {
		exitErr("show", fmt.Errorf("no contract for %s#%s", args[0], args[1]))
	}
}
