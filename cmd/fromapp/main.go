// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mbeema/fromapp/pkg/agent"
	"github.com/mbeema/fromapp/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootArgs struct {
	ConfigPath string
	ConfigDir  string
	LogLevel   string
}

func main() {
	agent.Version = version
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "fromapp",
		Short:        "Route classic Win32 file APIs through their FromApp counterparts",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&rootArgs.ConfigPath, "config", "", "path to configuration file")
	root.PersistentFlags().StringVar(&rootArgs.ConfigDir, "config-dir", "", "path to config directory (multi-file mode with auto-reload)")
	root.PersistentFlags().StringVar(&rootArgs.LogLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newCheckCommand())
	root.AddCommand(newHooksCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fromapp %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}

// setup loads configuration and builds the logger shared by subcommands.
func setup() (*config.Config, *zap.Logger, error) {
	var cfg *config.Config
	var err error
	if rootArgs.ConfigDir != "" {
		cfg, err = config.LoadDir(rootArgs.ConfigDir)
	} else {
		cfg, err = loadConfig(rootArgs.ConfigPath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if rootArgs.LogLevel != "" {
		cfg.LogLevel = rootArgs.LogLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaults := []string{
		"configs/fromapp.yaml",
		"fromapp.yaml",
	}
	if dir, err := os.UserConfigDir(); err == nil {
		defaults = append(defaults, filepath.Join(dir, "fromapp", "fromapp.yaml"))
	}
	for _, p := range defaults {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}

	cfg := config.DefaultConfig()
	cfg.ApplyEnvOverrides()
	return cfg, cfg.Validate()
}

func newLogger(level string) (*zap.Logger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return cfg.Build()
}
