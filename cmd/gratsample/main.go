// Command gratsample builds the thankee and thanker datasets of the
// Wikipedia gratitude study and inspects the table cache they are built on.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/civilservant/gratsample/internal/config"
)

var (
	configPath string
	overrides  []string

	rootCmd = &cobra.Command{
		Use:   "gratsample",
		Short: "Build the gratitude study datasets from the Wikipedia replicas",
		Long: `gratsample samples thankees and thankers per language, enriches them
with per-user features and writes one CSV per dataset. Every replica and API
lookup is cached, so an interrupted run resumes where it stopped.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil,
		`JSON merge patch applied to the configuration, e.g. --set '{"subsample":500}' (repeatable)`)

	rootCmd.AddCommand(thankeesCmd, thankersCmd, cacheCmd)
	cacheCmd.AddCommand(cacheLsCmd, cacheStatCmd)
}

// loadConfig reads the file, environment and --set overrides.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath, overrides...)
}

// newLogger builds the process logger from the configured level and format.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zc := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
