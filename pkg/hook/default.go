// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// DefaultEngineLibrary is the Detours DLL loaded by the default Manager.
const DefaultEngineLibrary = "detours.dll"

// ErrDefaultInUse means the default Manager still holds references.
var ErrDefaultInUse = errors.New("default hook manager in use")

var (
	defaultMu  sync.Mutex
	defaultMgr *Manager
)

// Default returns the process-wide Manager, creating it over the platform
// engine and DefaultRedirects on first use.
func Default() *Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultMgr == nil {
		logger := zap.NewNop()
		defaultMgr = NewManager(NewEngine(DefaultEngineLibrary, logger), DefaultRedirects, logger)
	}
	return defaultMgr
}

// SetDefault replaces the process-wide Manager. It fails while the current
// default has outstanding references, so hooks are never orphaned. The
// replaced Manager is retired: a late Acquire on it lands on m instead.
func SetDefault(m *Manager) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if m != nil && m == defaultMgr {
		return nil
	}
	if defaultMgr != nil && !defaultMgr.retire() {
		return ErrDefaultInUse
	}
	if m != nil {
		m.reinstate()
	}
	defaultMgr = m
	return nil
}

// Acquire takes a reference on the default Manager.
func Acquire() *Handle {
	return Default().Acquire()
}

// IsActive reports whether the default Manager has hooks installed.
func IsActive() bool {
	return Default().IsActive()
}
