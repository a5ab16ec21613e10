// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbeema/fromapp/pkg/agent"
	"github.com/mbeema/fromapp/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Hold the file api hooks and serve health endpoints until signalled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting fromapp agent",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create agent", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		logger.Error("failed to start agent", zap.Error(err))
		return err
	}

	var watcher *config.Watcher
	if rootArgs.ConfigDir != "" {
		watcher = config.NewWatcher(rootArgs.ConfigDir, func(newCfg *config.Config, changedFile string) {
			if err := a.Reload(newCfg); err != nil {
				logger.Error("failed to apply reloaded config",
					zap.String("file", changedFile),
					zap.Error(err),
				)
			}
		}, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Error("failed to start config watcher", zap.Error(err))
			a.Stop()
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// SIGHUP for config reload (single-file mode)
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			return shutdown(a, watcher, cancel, logger)

		case <-ctx.Done():
			return shutdown(a, watcher, cancel, logger)

		case <-hupCh:
			logger.Info("received SIGHUP, reloading configuration")
			var newCfg *config.Config
			var err error
			if rootArgs.ConfigDir != "" {
				newCfg, err = config.LoadDir(rootArgs.ConfigDir)
			} else {
				newCfg, err = loadConfig(rootArgs.ConfigPath)
			}
			if err != nil {
				logger.Error("failed to reload config", zap.Error(err))
				continue
			}
			if err := a.Reload(newCfg); err != nil {
				logger.Error("failed to apply new config", zap.Error(err))
			} else {
				logger.Info("configuration reloaded successfully")
			}
		}
	}
}

func shutdown(a *agent.Agent, watcher *config.Watcher, cancel context.CancelFunc, logger *zap.Logger) error {
	if watcher != nil {
		watcher.Stop()
	}
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.Stop()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("error during shutdown", zap.Error(err))
			return err
		}
		logger.Info("fromapp agent stopped")
		return nil
	case <-time.After(shutdownTimeout):
		logger.Error("shutdown timed out, forcing exit", zap.Duration("timeout", shutdownTimeout))
		return errors.New("shutdown timed out")
	}
}
