// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package agent

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbeema/fromapp/pkg/config"
	"github.com/mbeema/fromapp/pkg/health"
	"github.com/mbeema/fromapp/pkg/hook"
	"go.uber.org/zap"
)

// Version is reported by the health endpoint. Set by cmd/fromapp.
var Version = "dev"

// DefaultControlPollInterval is how often the agent reads its control file.
const DefaultControlPollInterval = time.Second

// Agent hosts the hook Manager for a long-running process: it holds one
// reference while interception is enabled and serves health endpoints.
type Agent struct {
	cfg    atomic.Pointer[config.Config]
	logger *zap.Logger

	mu        sync.Mutex
	newEngine func(library string, logger *zap.Logger) hook.Engine
	manager   *hook.Manager
	library   string
	handle    *hook.Handle
	health    *health.Server
	started   bool

	control      *ControlFile
	pollInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// New creates an agent over the platform hook engine.
func New(cfg *config.Config, logger *zap.Logger) (*Agent, error) {
	return newAgent(cfg, hook.NewEngine, logger)
}

func newAgent(cfg *config.Config, newEngine func(string, *zap.Logger) hook.Engine, logger *zap.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &Agent{
		logger:       logger,
		newEngine:    newEngine,
		pollInterval: DefaultControlPollInterval,
	}
	a.cfg.Store(cfg)

	if err := a.rebuildManager(cfg); err != nil {
		return nil, err
	}

	if cfg.Health.Enabled {
		a.health = health.NewServer(cfg.Health.Port, Version, health.NewStats(a), logger)
	}
	return a, nil
}

// Start brings up the health server and, if enabled, installs the hooks.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}

	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
	}

	cfg := a.cfg.Load()
	if cfg.Intercept.ControlDir != "" {
		control, err := CreateControlFile(cfg.Intercept.ControlDir, cfg.Intercept.Enabled)
		if err != nil {
			if a.health != nil {
				a.health.Stop()
			}
			return err
		}
		a.control = control
		a.stopCh = make(chan struct{})
		a.wg.Add(1)
		go a.controlLoop(ctx, a.stopCh)
	}

	if cfg.Intercept.Enabled {
		a.acquire()
	}

	a.started = true
	if a.health != nil {
		a.health.SetReady(true)
	}

	a.logger.Info("fromapp agent started",
		zap.String("engine", a.manager.Status().Engine),
		zap.Bool("intercept", cfg.Intercept.Enabled),
		zap.Bool("hooks_active", a.manager.IsActive()),
	)
	return nil
}

// Stop releases the agent's reference and shuts the health server down.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	stopCh := a.stopCh
	a.stopCh = nil
	a.mu.Unlock()

	// The control loop takes a.mu; wait for it before locking again.
	if stopCh != nil {
		close(stopCh)
		a.wg.Wait()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.release()

	if a.control != nil {
		if err := a.control.Remove(); err != nil {
			a.logger.Debug("remove control file", zap.Error(err))
		}
		a.control = nil
	}

	var err error
	if a.health != nil {
		a.health.SetReady(false)
		err = a.health.Stop()
	}
	a.logger.Info("fromapp agent stopped")
	return err
}

// Reload applies a new configuration. Changing the engine library or the
// disabled list rebuilds the Manager, which briefly removes the hooks.
func (a *Agent) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg.Store(cfg)

	rebuild := cfg.Intercept.EngineLibrary != a.library ||
		!slices.Equal(cfg.Intercept.Redirects(), a.manager.Redirects())

	if rebuild {
		held := a.handle != nil
		a.release()
		if err := a.rebuildManager(cfg); err != nil {
			a.logger.Warn("keeping previous hook manager", zap.Error(err))
			if held && cfg.Intercept.Enabled {
				a.acquire()
			}
			return err
		}
	}

	if a.control != nil {
		if err := a.control.Set(cfg.Intercept.Enabled); err != nil {
			a.logger.Warn("failed to update control file", zap.Error(err))
		}
	}

	if a.started {
		switch {
		case cfg.Intercept.Enabled && a.handle == nil:
			a.acquire()
		case !cfg.Intercept.Enabled && a.handle != nil:
			a.release()
		}
	}

	a.logger.Info("configuration reloaded",
		zap.Bool("intercept", cfg.Intercept.Enabled),
		zap.Bool("rebuilt", rebuild),
		zap.Bool("hooks_active", a.manager.IsActive()),
	)
	return nil
}

// ControlPath returns the control file path, or "" if none is in use.
func (a *Agent) ControlPath() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.control == nil {
		return ""
	}
	return a.control.Path()
}

// Status reports the current Manager's status.
func (a *Agent) Status() hook.Status {
	a.mu.Lock()
	m := a.manager
	a.mu.Unlock()
	return m.Status()
}

// Manager returns the hook Manager the agent currently drives.
func (a *Agent) Manager() *hook.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manager
}

// HealthAddr returns the health server's bound address, or "" if disabled.
func (a *Agent) HealthAddr() string {
	if a.health == nil {
		return ""
	}
	return a.health.Addr()
}

// rebuildManager must be called with a.mu held (or before the agent is
// shared) and with no handle outstanding.
func (a *Agent) rebuildManager(cfg *config.Config) error {
	logger := a.logger.Named("hook")
	m := hook.NewManager(a.newEngine(cfg.Intercept.EngineLibrary, logger), cfg.Intercept.Redirects(), logger)
	if err := hook.SetDefault(m); err != nil {
		return fmt.Errorf("install default hook manager: %w", err)
	}
	a.manager = m
	a.library = cfg.Intercept.EngineLibrary
	return nil
}

func (a *Agent) acquire() {
	if a.handle != nil {
		return
	}
	a.handle = a.manager.Acquire()
	if !a.handle.Active() {
		st := a.manager.Status()
		a.logger.Warn("file api hooks not active; continuing without interception",
			zap.String("engine", st.Engine),
			zap.Int("skipped", len(st.Skipped)),
			zap.String("last_error", st.LastError),
		)
	}
}

func (a *Agent) release() {
	if a.handle == nil {
		return
	}
	a.handle.Close()
	a.handle = nil
}

func (a *Agent) controlLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.applyControl()
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// applyControl makes the agent's reference match the control file.
func (a *Agent) applyControl() {
	on, err := a.control.Enabled()
	if err != nil {
		a.logger.Debug("read control file", zap.Error(err))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return
	}
	switch {
	case on && a.handle == nil:
		a.acquire()
		a.logger.Info("interception enabled via control file", zap.Bool("hooks_active", a.manager.IsActive()))
	case !on && a.handle != nil:
		a.release()
		a.logger.Info("interception disabled via control file")
	}
}
