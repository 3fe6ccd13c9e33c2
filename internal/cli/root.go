// Package cli implements the callsig CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/callsig/internal/config"
	"github.com/rcliao/callsig/internal/model"
	"github.com/rcliao/callsig/internal/store"
)

var (
	configPath string
	dbPath     string
	receivedDB string
	logLevel   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "callsig",
	Short: "Learn method call signatures from runtime traces",
	Long: "callsig receives call records from instrumented programs, learns a contract per method " +
		"and stores it. Learned contracts can be exported to .rmc files and shared.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $CALLSIG_CONFIG or ~/.callsig/config.toml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Local SQLite database (overrides local_db)")
	RootCmd.PersistentFlags().StringVar(&receivedDB, "received", "", "Received baseline directory (overrides received_db)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides log_level)")
}

// loadConfig resolves the config file and environment, then applies flags.
func loadConfig() config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.LocalDB = dbPath
	}
	if receivedDB != "" {
		cfg.ReceivedDB = receivedDB
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		exitErr("config", err)
	}
	return cfg
}

// openStore opens the local store, wrapped in a DiffStore when a received
// baseline is configured.
func openStore(cfg config.Config, logger *slog.Logger) (store.Store, error) {
	local, err := store.NewSQLiteStore(cfg.LocalDB)
	if err != nil {
		return nil, err
	}
	if cfg.ReceivedDB == "" {
		return local, nil
	}
	received, err := store.NewBadgerStore(store.BadgerConfig{Path: cfg.ReceivedDB, Logger: logger})
	if err != nil {
		local.Close()
		return nil, err
	}
	return store.NewDiffStore(received, local), nil
}

// parseGem reads "name@version". An empty string or "-" is code outside any gem.
func parseGem(s string) (model.GemInfo, error) {
	if s == "" || s == "-" {
		return model.GemInfo{}, nil
	}
	name, version, ok := strings.Cut(s, "@")
	if !ok || name == "" || version == "" {
		return model.GemInfo{}, fmt.Errorf("gem %q: want name@version", s)
	}
	g := model.GemInfo{Name: name, Version: version}
	return g, g.Validate()
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
