package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jgoulah/itrontap/internal/config"
	"github.com/jgoulah/itrontap/internal/provider"
	"github.com/jgoulah/itrontap/internal/statstore"
)

var (
	cfgFile string
	dbPath  string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "itrontap",
	Short: "Collect hourly water usage from Itron-hosted municipal portals",
	Long: `itrontap polls a municipality's Itron-hosted customer portal for hourly
water meter usage and reconciles it into a gap-free cumulative statistics
series stored in a local SQLite database. A parallel cost series is derived
from a configured rate, and the latest readings can optionally be published
over MQTT.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (default is ./data.db)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// getDBPath returns the database file path (local directory)
func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return "data.db"
}

// loadConfig loads and validates the configuration file
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the statistics store
func openStore() (*statstore.DB, error) {
	path := getDBPath()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	return statstore.Open(path)
}

// newLogger builds the process logger honoring --debug
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newClient resolves the configured municipality and builds a portal client
func newClient(cfg *config.Config, log *slog.Logger) (*provider.Client, error) {
	muni, err := provider.ResolveMunicipality(cfg.Municipality)
	if err != nil {
		return nil, fmt.Errorf("resolving municipality: %w (available: %v)", err, provider.MunicipalityNames())
	}
	return provider.NewClient(muni, cfg.Username, cfg.Password, log), nil
}
