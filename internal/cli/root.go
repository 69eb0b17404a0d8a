package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thruflo/botloop/internal/config"
	"github.com/thruflo/botloop/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "botloop.yaml"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "botloop",
	Short: "Real-time robot control loop for teleoperation and episode recording",
	Long: `Botloop drives a robot device at a fixed frame rate. The device is
teleoperated from its leader arms or driven by a policy, and frames can be
recorded into a local dataset one episode at a time.

While a loop runs, the right arrow key ends the current phase early, the
left arrow key discards and re-records the current episode, and escape stops
recording.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("botloop version {{.Version}}\n")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "path to a YAML or TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config named by --config and applies --log-level.
// The default logger is configured from the result.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logging.SetLevel(level)
	return cfg, logging.Default(), nil
}
