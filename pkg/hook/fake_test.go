package hook

import (
	"fmt"
	"sync"
)

// fakeEngine is an in-memory Engine. It records which redirects a real
// engine would have applied so tests can compare the Manager's registry
// against "reality".
type fakeEngine struct {
	mu sync.Mutex

	modules map[string]Module
	symbols map[Module]map[string]uintptr

	failBegin    error
	failUpdate   error
	failCommit   error
	failRedirect map[uintptr]error
	failReverse  map[uintptr]error

	restores int
	begins   int
	commits  int
	aborts   int
	open     bool
	overlaps int

	applied map[uintptr]uintptr
}

const (
	fakeKernel32 Module = 0x7ff00000
	fakeFromApp  Module = 0x7fe00000
)

// newFakeEngine resolves every module and symbol of DefaultRedirects.
func newFakeEngine() *fakeEngine {
	e := &fakeEngine{
		modules: map[string]Module{
			Kernel32Module: fakeKernel32,
			FromAppModule:  fakeFromApp,
		},
		symbols: map[Module]map[string]uintptr{
			fakeKernel32: {},
			fakeFromApp:  {},
		},
		failRedirect: make(map[uintptr]error),
		failReverse:  make(map[uintptr]error),
		applied:      make(map[uintptr]uintptr),
	}
	for i, r := range DefaultRedirects {
		e.symbols[fakeKernel32][r.SourceSymbol] = uintptr(fakeKernel32) + uintptr(0x100*(i+1))
		e.symbols[fakeFromApp][r.TargetSymbol] = uintptr(fakeFromApp) + uintptr(0x100*(i+1))
	}
	return e
}

func (e *fakeEngine) addr(mod Module, name string) uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.symbols[mod][name]
}

func (e *fakeEngine) removeSymbol(mod Module, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.symbols[mod], name)
}

func (e *fakeEngine) removeModule(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.modules, name)
}

func (e *fakeEngine) appliedCopy() map[uintptr]uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[uintptr]uintptr, len(e.applied))
	for k, v := range e.applied {
		out[k] = v
	}
	return out
}

func (e *fakeEngine) counts() (begins, commits, aborts, overlaps int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.begins, e.commits, e.aborts, e.overlaps
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) RestoreAfterWith() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restores++
	return nil
}

func (e *fakeEngine) ResolveModule(name string) (Module, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mod, ok := e.modules[name]
	if !ok {
		return 0, fmt.Errorf("resolve %s: %w", name, ErrModuleNotFound)
	}
	return mod, nil
}

func (e *fakeEngine) ResolveSymbol(mod Module, name string) (uintptr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	addr, ok := e.symbols[mod][name]
	if !ok {
		return 0, fmt.Errorf("resolve %s: %w", name, ErrSymbolNotFound)
	}
	return addr, nil
}

func (e *fakeEngine) Begin() (Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failBegin != nil {
		return nil, e.failBegin
	}
	if e.open {
		e.overlaps++
	}
	e.open = true
	e.begins++
	return &fakeTransaction{
		e:        e,
		attach:   make(map[uintptr]uintptr),
		detach:   make(map[uintptr]uintptr),
		disposed: false,
	}, nil
}

// fakeTransaction follows Detours: the first failed Redirect or Reverse
// becomes the transaction's pending error, every later call returns it, and
// Commit fails with it without applying anything.
type fakeTransaction struct {
	e        *fakeEngine
	attach   map[uintptr]uintptr
	detach   map[uintptr]uintptr
	pending  error
	disposed bool
}

func (t *fakeTransaction) UpdateCurrentThread() error {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	return t.e.failUpdate
}

func (t *fakeTransaction) Redirect(original, replacement uintptr) error {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	if t.pending != nil {
		return t.pending
	}
	if err := t.e.failRedirect[original]; err != nil {
		t.pending = err
		return err
	}
	if _, ok := t.e.applied[original]; ok {
		t.pending = fmt.Errorf("%#x already patched", original)
		return t.pending
	}
	t.attach[original] = replacement
	return nil
}

func (t *fakeTransaction) Reverse(original, replacement uintptr) error {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	if t.pending != nil {
		return t.pending
	}
	if err := t.e.failReverse[original]; err != nil {
		t.pending = err
		return err
	}
	if t.e.applied[original] != replacement {
		t.pending = fmt.Errorf("%#x not patched to %#x", original, replacement)
		return t.pending
	}
	t.detach[original] = replacement
	return nil
}

func (t *fakeTransaction) Commit() error {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	t.e.open = false
	t.disposed = true
	if t.pending != nil {
		t.e.aborts++
		return t.pending
	}
	if t.e.failCommit != nil {
		t.e.aborts++
		return t.e.failCommit
	}
	for k := range t.detach {
		delete(t.e.applied, k)
	}
	for k, v := range t.attach {
		t.e.applied[k] = v
	}
	t.e.commits++
	return nil
}

func (t *fakeTransaction) Abort() error {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	t.e.open = false
	t.disposed = true
	t.e.aborts++
	return nil
}
