package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/internal/config"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "taskweave",
	Short: "Multi-agent workflow orchestration engine",
	Long: `taskweave decomposes a unit of work into a dependency graph of tasks,
dispatches each task to a named agent capability, propagates results between
dependent tasks, and keeps making progress under partial failure.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (overrides conventional paths)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves configuration from the --config flag or conventional
// global/project paths.
func loadConfig() (*config.EngineConfig, error) {
	if configPath != "" {
		return config.Load("", configPath)
	}
	return config.LoadDefault()
}

// newLogger builds the process logger from flags and config.
func newLogger(cfg *config.EngineConfig) *log.Logger {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "taskweave",
	})
	switch level {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}
