package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/callsig/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search local methods by class or name",
		Long:  "Search methods with a local signature whose class, name or Class#name contains QUERY.",
		Args:  cobra.ExactArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().StringP("gem", "g", "", "Only methods of this gem name")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("names-only", false, "Only output Class#method")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	gem, _ := cmd.Flags().GetString("gem")
	limit, _ := cmd.Flags().GetInt("limit")
	namesOnly, _ := cmd.Flags().GetBool("names-only")

	cfg := loadConfig()
	s, err := store.NewSQLiteStore(cfg.LocalDB)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	results, err := s.Search(cmd.Context(), store.SearchParams{Query: args[0], Gem: gem, Limit: limit})
	if err != nil {
		exitErr("search", err)
	}

	if namesOnly {
		for _, r := range results {
			fmt.Printf("%s#%s\n", r.Method.Class.FQN, r.Method.Name)
		}
		return
	}
	printJSON(results)
}
