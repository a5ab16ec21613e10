// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Manager owns the process-wide interception state: a reference count,
// whether the hooks are installed, and the registry of active redirects.
// The first Acquire installs every resolvable redirect in one engine
// transaction; the Release that drops the count to zero removes them all.
//
// Engine failures never surface to callers. They are logged, counted in
// Stats and reported by Status.
type Manager struct {
	engine    Engine
	redirects []Redirect
	logger    *zap.Logger
	stats     Stats

	mu        sync.Mutex
	refCount  int
	active    bool
	restored  bool
	retired   bool // replaced as the process default
	hooks     map[uintptr]uintptr // original -> replacement
	installed []InstalledHook
	skipped   []SkippedRedirect
	lastErr   error
}

// NewManager creates a Manager over engine for the given redirect table.
// Nothing touches the engine until the first Acquire.
func NewManager(engine Engine, redirects []Redirect, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		engine:    engine,
		redirects: append([]Redirect(nil), redirects...),
		logger:    logger,
		hooks:     make(map[uintptr]uintptr),
	}
}

// Acquire takes a reference on the hooks and returns a Handle that gives it
// back on Close.
//
// A Manager replaced as the process default by SetDefault no longer takes
// references; Acquire on it returns a Handle on the current default, so a
// caller holding a stale pointer can never install a second set of hooks.
func (m *Manager) Acquire() *Handle {
	if !m.acquire() {
		return Default().Acquire()
	}
	return newHandle(m)
}

// IsActive reports whether the hooks are currently installed.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// RefCount returns the number of outstanding references.
func (m *Manager) RefCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refCount
}

// Hooks returns a copy of the registry of active redirects.
func (m *Manager) Hooks() map[uintptr]uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uintptr]uintptr, len(m.hooks))
	for k, v := range m.hooks {
		out[k] = v
	}
	return out
}

// Redirects returns the table this Manager installs.
func (m *Manager) Redirects() []Redirect {
	return append([]Redirect(nil), m.redirects...)
}

// Stats returns the Manager's counters.
func (m *Manager) Stats() *Stats {
	return &m.stats
}

// Status returns a snapshot of the Manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Engine:    m.engine.Name(),
		Active:    m.active,
		RefCount:  m.refCount,
		Installed: append([]InstalledHook{}, m.installed...),
		Skipped:   append([]SkippedRedirect(nil), m.skipped...),
		Stats:     m.stats.Snapshot(),
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

func (m *Manager) acquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.retired {
		return false
	}
	m.stats.Acquires.Add(1)
	m.refCount++
	if m.refCount == 1 {
		m.install()
	}
	return true
}

// retire marks m as replaced. It fails while references are outstanding.
func (m *Manager) retire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refCount > 0 {
		return false
	}
	m.retired = true
	return true
}

func (m *Manager) reinstate() {
	m.mu.Lock()
	m.retired = false
	m.mu.Unlock()
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refCount == 0 {
		m.stats.ExtraReleases.Add(1)
		m.logger.Debug("release without matching acquire ignored")
		return
	}

	m.stats.Releases.Add(1)
	m.refCount--
	if m.refCount == 0 && m.active {
		m.teardown()
	}
}

// install runs under m.mu on the 0->1 transition.
func (m *Manager) install() {
	if !m.restored {
		m.restored = true
		if err := m.engine.RestoreAfterWith(); err != nil {
			m.logger.Debug("restore after with failed", zap.Error(err))
		}
	}

	m.skipped = m.skipped[:0]
	m.lastErr = nil

	candidates := m.resolveModules()
	if len(candidates) == 0 {
		m.logger.Debug("no redirect has both modules loaded; interception disabled",
			zap.String("engine", m.engine.Name()),
		)
		return
	}

	pairs := m.resolvePairs(candidates)

	// The engine binds the transaction to an OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tx, err := m.begin()
	if err != nil {
		m.stats.InstallFailures.Add(1)
		m.lastErr = err
		m.logger.Warn("hook install aborted", zap.Error(err))
		return
	}

	// A rejected redirect poisons the whole engine transaction, so abort
	// and start over without it until every remaining pair is accepted.
	for {
		rejected, err := m.stage(tx, pairs)
		if err == nil {
			break
		}
		m.skip(pairs[rejected].Redirect, fmt.Errorf("redirect: %w", err))
		m.stats.RedirectErrors.Add(1)
		pairs = slices.Delete(pairs, rejected, rejected+1)

		if abortErr := tx.Abort(); abortErr != nil {
			m.logger.Debug("abort after rejected redirect failed", zap.Error(abortErr))
		}
		if tx, err = m.begin(); err != nil {
			m.stats.InstallFailures.Add(1)
			m.lastErr = err
			m.logger.Warn("hook install aborted", zap.Error(err))
			return
		}
	}

	staged := make(map[uintptr]uintptr, len(pairs))
	installed := make([]InstalledHook, 0, len(pairs))
	for _, p := range pairs {
		staged[p.Original] = p.Replacement
		installed = append(installed, p)
	}

	if err := tx.Commit(); err != nil {
		m.stats.CommitErrors.Add(1)
		m.stats.InstallFailures.Add(1)
		m.lastErr = fmt.Errorf("commit install: %w", err)
		m.logger.Warn("hook install commit failed; no hooks installed", zap.Error(err))
		return
	}

	m.hooks = staged
	m.installed = installed
	m.active = true
	m.stats.Installs.Add(1)

	m.logger.Info("file api hooks installed",
		zap.String("engine", m.engine.Name()),
		zap.Int("installed", len(installed)),
		zap.Int("skipped", len(m.skipped)),
	)
}

// teardown runs under m.mu on the 1->0 transition while active. The registry
// is cleared whatever the engine reports.
func (m *Manager) teardown() {
	defer func() {
		m.hooks = make(map[uintptr]uintptr)
		m.installed = nil
		m.active = false
		m.stats.Teardowns.Add(1)
	}()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tx, err := m.begin()
	if err != nil {
		m.lastErr = err
		m.logger.Warn("hook teardown aborted; hooks may remain installed", zap.Error(err))
		return
	}

	pairs := slices.Clone(m.installed)
	var failed int
	for {
		rejected, err := m.unstage(tx, pairs)
		if err == nil {
			break
		}
		failed++
		m.stats.ReverseErrors.Add(1)
		m.logger.Debug("reverse failed",
			zap.String("redirect", pairs[rejected].Redirect.String()),
			zap.Uintptr("original", pairs[rejected].Original),
			zap.Error(err),
		)
		pairs = slices.Delete(pairs, rejected, rejected+1)

		if abortErr := tx.Abort(); abortErr != nil {
			m.logger.Debug("abort after rejected reverse failed", zap.Error(abortErr))
		}
		if tx, err = m.begin(); err != nil {
			m.lastErr = err
			m.logger.Warn("hook teardown aborted; hooks may remain installed", zap.Error(err))
			return
		}
	}

	if err := tx.Commit(); err != nil {
		m.stats.CommitErrors.Add(1)
		m.lastErr = fmt.Errorf("commit teardown: %w", err)
		m.logger.Warn("hook teardown commit failed; hooks may remain installed", zap.Error(err))
		return
	}

	m.logger.Info("file api hooks removed",
		zap.Int("removed", len(pairs)),
		zap.Int("failed", failed),
	)
}

// begin opens a transaction and enlists the current thread, aborting the
// transaction if enlisting fails.
func (m *Manager) begin() (Transaction, error) {
	tx, err := m.engine.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	if err := tx.UpdateCurrentThread(); err != nil {
		if abortErr := tx.Abort(); abortErr != nil {
			err = errors.Join(err, abortErr)
		}
		return nil, fmt.Errorf("update thread: %w", err)
	}
	return tx, nil
}

// resolvePairs resolves both symbols of every candidate and drops
// unresolvable entries and repeated source addresses.
func (m *Manager) resolvePairs(candidates []candidate) []InstalledHook {
	pairs := make([]InstalledHook, 0, len(candidates))
	seen := make(map[uintptr]bool, len(candidates))
	for _, c := range candidates {
		original, err := m.engine.ResolveSymbol(c.source, c.SourceSymbol)
		if err != nil {
			m.skip(c.Redirect, err)
			m.stats.ResolveMisses.Add(1)
			continue
		}
		replacement, err := m.engine.ResolveSymbol(c.target, c.TargetSymbol)
		if err != nil {
			m.skip(c.Redirect, err)
			m.stats.ResolveMisses.Add(1)
			continue
		}
		if seen[original] {
			m.skip(c.Redirect, fmt.Errorf("%#x already redirected: %w", original, ErrDuplicateRedirect))
			continue
		}
		seen[original] = true
		pairs = append(pairs, InstalledHook{Redirect: c.Redirect, Original: original, Replacement: replacement})
	}
	return pairs
}

// stage schedules every pair in tx. On failure it returns the index of the
// pair the engine rejected.
func (m *Manager) stage(tx Transaction, pairs []InstalledHook) (int, error) {
	for i, p := range pairs {
		if err := tx.Redirect(p.Original, p.Replacement); err != nil {
			return i, err
		}
	}
	return -1, nil
}

// unstage is stage for teardown.
func (m *Manager) unstage(tx Transaction, pairs []InstalledHook) (int, error) {
	for i, p := range pairs {
		if err := tx.Reverse(p.Original, p.Replacement); err != nil {
			return i, err
		}
	}
	return -1, nil
}

type candidate struct {
	Redirect
	source Module
	target Module
}

// resolveModules pairs each redirect with its loaded modules. Redirects
// whose modules cannot be located are recorded as skipped.
func (m *Manager) resolveModules() []candidate {
	type result struct {
		mod Module
		err error
	}
	cache := make(map[string]result)
	lookup := func(name string) (Module, error) {
		if r, ok := cache[name]; ok {
			return r.mod, r.err
		}
		mod, err := m.engine.ResolveModule(name)
		cache[name] = result{mod, err}
		return mod, err
	}

	out := make([]candidate, 0, len(m.redirects))
	for _, r := range m.redirects {
		source, err := lookup(r.SourceModule)
		if err != nil {
			m.skip(r, err)
			continue
		}
		target, err := lookup(r.TargetModule)
		if err != nil {
			m.skip(r, err)
			continue
		}
		out = append(out, candidate{Redirect: r, source: source, target: target})
	}
	return out
}

func (m *Manager) skip(r Redirect, err error) {
	m.skipped = append(m.skipped, SkippedRedirect{Redirect: r, Reason: err.Error()})
	m.logger.Debug("redirect skipped",
		zap.String("redirect", r.String()),
		zap.Error(err),
	)
}
