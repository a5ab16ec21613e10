// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported means the patching engine cannot run in this process
	// (wrong OS, or the engine library failed to load).
	ErrUnsupported = errors.New("binary interception unsupported")
	// ErrModuleNotFound means a module is not loaded and could not be located.
	ErrModuleNotFound = errors.New("module not found")
	// ErrSymbolNotFound means a module does not export the requested symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrDuplicateRedirect means two redirects target the same export.
	ErrDuplicateRedirect = errors.New("duplicate redirect")
)

// Module is an opaque handle to a loaded module.
type Module uintptr

// Engine is the binary patching engine the Manager drives. Implementations
// include the Detours engine (Windows) and the unsupported engine used
// everywhere else.
type Engine interface {
	// RestoreAfterWith clears stale patching state left by a previous,
	// improperly terminated session. Called once before any other call.
	RestoreAfterWith() error

	// ResolveModule returns a handle to a module by name.
	ResolveModule(name string) (Module, error)

	// ResolveSymbol returns the address of an exported symbol.
	ResolveSymbol(mod Module, name string) (uintptr, error)

	// Begin opens a patch transaction.
	Begin() (Transaction, error)

	// Name returns the engine name (e.g., "detours", "unsupported").
	Name() string
}

// Transaction batches redirects and reversals so the engine can apply them
// as one unit. A Transaction is used from a single OS thread.
type Transaction interface {
	// UpdateCurrentThread enlists the calling thread in the transaction.
	UpdateCurrentThread() error

	// Redirect schedules calls through original to land on replacement.
	Redirect(original, replacement uintptr) error

	// Reverse schedules removal of a previously committed redirect.
	Reverse(original, replacement uintptr) error

	// Commit applies everything scheduled. A failed commit leaves the
	// transaction aborted.
	Commit() error

	// Abort discards everything scheduled.
	Abort() error
}

// unsupportedEngine is a no-op Engine for platforms where inline patching is
// not available. Module resolution always fails, so the Manager never opens
// a transaction and degrades to pass-through.
type unsupportedEngine struct {
	reason string
}

var _ Engine = (*unsupportedEngine)(nil)

// NewUnsupportedEngine returns an Engine that reports every module as
// missing, wrapping ErrUnsupported with reason.
func NewUnsupportedEngine(reason string) Engine {
	return &unsupportedEngine{reason: reason}
}

func (u *unsupportedEngine) RestoreAfterWith() error {
	return nil
}

func (u *unsupportedEngine) ResolveModule(name string) (Module, error) {
	return 0, fmt.Errorf("resolve %s: %w: %s", name, ErrUnsupported, u.reason)
}

func (u *unsupportedEngine) ResolveSymbol(_ Module, name string) (uintptr, error) {
	return 0, fmt.Errorf("resolve %s: %w: %s", name, ErrUnsupported, u.reason)
}

func (u *unsupportedEngine) Begin() (Transaction, error) {
	return nil, fmt.Errorf("begin transaction: %w: %s", ErrUnsupported, u.reason)
}

func (u *unsupportedEngine) Name() string {
	return "unsupported"
}
