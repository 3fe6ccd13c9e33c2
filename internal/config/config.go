// Package config resolves callsig settings from defaults, an optional TOML
// file and CALLSIG_* environment variables. Command-line flags are applied on
// top by the cli package.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CALLSIG_"

// Config holds callsig settings.
type Config struct {
	// Listen is the TCP address the ingestion server accepts agents on.
	Listen string `toml:"listen"`
	// MetricsListen serves /metrics when non-empty.
	MetricsListen string `toml:"metrics_listen"`
	// LocalDB is the SQLite file holding local learnings.
	LocalDB string `toml:"local_db"`
	// ReceivedDB is the badger directory of the received baseline. Empty
	// means a single local store without diff tracking.
	ReceivedDB string `toml:"received_db"`
	LogLevel   string `toml:"log_level"`
}

// Dir returns the callsig home directory, ~/.callsig.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".callsig"
	}
	return filepath.Join(home, ".callsig")
}

// Default returns the built-in settings.
func Default() Config {
	dir := Dir()
	return Config{
		Listen:     "127.0.0.1:7777",
		LocalDB:    filepath.Join(dir, "local.db"),
		ReceivedDB: filepath.Join(dir, "received"),
		LogLevel:   "info",
	}
}

// DefaultPath is the config file read when none is named.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load resolves the configuration. An explicit path must exist; the default
// path is optional. CALLSIG_CONFIG names the file when path is empty.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if env := os.Getenv(EnvPrefix + "CONFIG"); env != "" {
			path, explicit = env, true
		} else {
			path = DefaultPath()
		}
	}
	if err := cfg.loadFile(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
		if err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func (c *Config) applyEnv() {
	for name, dst := range map[string]*string{
		"LISTEN":         &c.Listen,
		"METRICS_LISTEN": &c.MetricsListen,
		"LOCAL_DB":       &c.LocalDB,
		"RECEIVED_DB":    &c.ReceivedDB,
		"LOG_LEVEL":      &c.LogLevel,
	} {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
}

// Validate checks addresses, paths and the log level.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen %q: %w", c.Listen, err)
	}
	if c.MetricsListen != "" {
		if _, _, err := net.SplitHostPort(c.MetricsListen); err != nil {
			return fmt.Errorf("metrics_listen %q: %w", c.MetricsListen, err)
		}
	}
	if c.LocalDB == "" {
		return errors.New("local_db must be set")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger returns a text logger on stderr at the configured level.
func (c Config) NewLogger() *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
