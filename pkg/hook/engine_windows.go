// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build windows

package hook

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

// NewEngine loads the Detours library and returns an Engine backed by it.
// If the library or one of its exports is missing, the returned Engine is
// the unsupported engine and interception silently stays off.
func NewEngine(library string, logger *zap.Logger) Engine {
	e, err := newDetoursEngine(library)
	if err != nil {
		logger.Warn("binary interception unavailable",
			zap.String("library", library),
			zap.Error(err),
		)
		return NewUnsupportedEngine(err.Error())
	}
	return e
}

// detoursEngine drives Microsoft Detours through its exported C API.
//
// DetourAttach rewrites the pointer it is given into the address of the
// trampoline once the transaction commits, and DetourDetach expects that
// trampoline pointer back. Pointer slots are kept on the heap for the
// lifetime of the hook and indexed by original address.
type detoursEngine struct {
	restoreAfterWith *windows.LazyProc
	transactionBegin *windows.LazyProc
	updateThread     *windows.LazyProc
	attach           *windows.LazyProc
	detach           *windows.LazyProc
	commit           *windows.LazyProc
	abort            *windows.LazyProc

	mu     sync.Mutex
	slots  map[uintptr]*uintptr // original -> trampoline slot
	loaded map[string]Module    // modules this engine loaded itself
}

var _ Engine = (*detoursEngine)(nil)

func newDetoursEngine(library string) (*detoursEngine, error) {
	dll := windows.NewLazyDLL(library)
	if err := dll.Load(); err != nil {
		return nil, fmt.Errorf("load %s: %w", library, err)
	}

	e := &detoursEngine{
		restoreAfterWith: dll.NewProc("DetourRestoreAfterWith"),
		transactionBegin: dll.NewProc("DetourTransactionBegin"),
		updateThread:     dll.NewProc("DetourUpdateThread"),
		attach:           dll.NewProc("DetourAttach"),
		detach:           dll.NewProc("DetourDetach"),
		commit:           dll.NewProc("DetourTransactionCommit"),
		abort:            dll.NewProc("DetourTransactionAbort"),
		slots:            make(map[uintptr]*uintptr),
		loaded:           make(map[string]Module),
	}

	for _, p := range []*windows.LazyProc{
		e.restoreAfterWith, e.transactionBegin, e.updateThread,
		e.attach, e.detach, e.commit, e.abort,
	} {
		if err := p.Find(); err != nil {
			return nil, fmt.Errorf("%s: %w", library, err)
		}
	}
	return e, nil
}

func (e *detoursEngine) Name() string {
	return "detours"
}

func (e *detoursEngine) RestoreAfterWith() error {
	// BOOL; FALSE simply means the process was not started by Detours.
	if r, _, err := e.restoreAfterWith.Call(); r == 0 {
		return fmt.Errorf("DetourRestoreAfterWith: %w", err)
	}
	return nil
}

// ResolveModule returns an already loaded module without touching its
// reference count. API set contracts such as the fromapp DLL are not loaded
// by default in every process, so a miss falls back to loading from System32.
// A module loaded that way is kept, and reused, for the engine's lifetime:
// installed hooks point into it.
func (e *detoursEngine) ResolveModule(name string) (Module, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if mod, ok := e.loaded[name]; ok {
		return mod, nil
	}

	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", name, err)
	}

	var h windows.Handle
	err = windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, p, &h)
	if err == nil && h != 0 {
		return Module(h), nil
	}

	h, err = windows.LoadLibraryEx(name, 0, windows.LOAD_LIBRARY_SEARCH_SYSTEM32)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w: %v", name, ErrModuleNotFound, err)
	}
	e.loaded[name] = Module(h)
	return Module(h), nil
}

func (e *detoursEngine) ResolveSymbol(mod Module, name string) (uintptr, error) {
	addr, err := windows.GetProcAddress(windows.Handle(mod), name)
	if err != nil || addr == 0 {
		return 0, fmt.Errorf("resolve %s: %w: %v", name, ErrSymbolNotFound, err)
	}
	return addr, nil
}

func (e *detoursEngine) Begin() (Transaction, error) {
	r1, _, _ := e.transactionBegin.Call()
	if err := detourResult("DetourTransactionBegin", r1); err != nil {
		return nil, err
	}
	return &detoursTransaction{
		e:        e,
		attached: make(map[uintptr]*uintptr),
		detached: make(map[uintptr]*uintptr),
	}, nil
}

type detoursTransaction struct {
	e        *detoursEngine
	attached map[uintptr]*uintptr
	detached map[uintptr]*uintptr // Detours writes through these on commit
}

func (t *detoursTransaction) UpdateCurrentThread() error {
	r1, _, _ := t.e.updateThread.Call(uintptr(windows.CurrentThread()))
	return detourResult("DetourUpdateThread", r1)
}

func (t *detoursTransaction) Redirect(original, replacement uintptr) error {
	slot := new(uintptr)
	*slot = original
	r1, _, _ := t.e.attach.Call(uintptr(unsafe.Pointer(slot)), replacement)
	runtime.KeepAlive(slot)
	if err := detourResult("DetourAttach", r1); err != nil {
		return err
	}
	t.attached[original] = slot
	return nil
}

func (t *detoursTransaction) Reverse(original, replacement uintptr) error {
	t.e.mu.Lock()
	slot, ok := t.e.slots[original]
	t.e.mu.Unlock()
	if !ok {
		slot = new(uintptr)
		*slot = original
	}

	r1, _, _ := t.e.detach.Call(uintptr(unsafe.Pointer(slot)), replacement)
	runtime.KeepAlive(slot)
	if err := detourResult("DetourDetach", r1); err != nil {
		return err
	}
	t.detached[original] = slot
	return nil
}

func (t *detoursTransaction) Commit() error {
	r1, _, _ := t.e.commit.Call()
	if err := detourResult("DetourTransactionCommit", r1); err != nil {
		return err
	}

	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	for original := range t.detached {
		delete(t.e.slots, original)
	}
	for original, slot := range t.attached {
		t.e.slots[original] = slot
	}
	return nil
}

func (t *detoursTransaction) Abort() error {
	r1, _, _ := t.e.abort.Call()
	return detourResult("DetourTransactionAbort", r1)
}

// detourResult converts a Detours LONG result into an error. Callers invoke
// the export themselves so pointer arguments stay inside the Call expression.
func detourResult(op string, r1 uintptr) error {
	if r1 != 0 {
		return fmt.Errorf("%s: %w", op, windows.Errno(r1))
	}
	return nil
}
