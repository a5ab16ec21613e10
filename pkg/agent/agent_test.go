// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package agent

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/mbeema/fromapp/pkg/config"
	"github.com/mbeema/fromapp/pkg/hook"
	"go.uber.org/zap"
)

// stubEngine resolves every module and symbol and tracks live redirects.
type stubEngine struct {
	mu      sync.Mutex
	library string
	live    map[uintptr]uintptr
	next    uintptr
	addrs   map[string]uintptr
}

func newStubEngine(library string) *stubEngine {
	return &stubEngine{
		library: library,
		live:    make(map[uintptr]uintptr),
		addrs:   make(map[string]uintptr),
		next:    0x1000,
	}
}

func (e *stubEngine) Name() string { return "stub:" + e.library }
func (e *stubEngine) RestoreAfterWith() error { return nil }
func (e *stubEngine) Begin() (hook.Transaction, error) {
	return &stubTx{e: e, add: map[uintptr]uintptr{}, del: map[uintptr]bool{}}, nil
}

func (e *stubEngine) ResolveModule(name string) (hook.Module, error) {
	return hook.Module(len(name)), nil
}

func (e *stubEngine) ResolveSymbol(_ hook.Module, name string) (uintptr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.addrs[name]; ok {
		return a, nil
	}
	e.next += 0x10
	e.addrs[name] = e.next
	return e.next, nil
}

func (e *stubEngine) liveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

type stubTx struct {
	e   *stubEngine
	add map[uintptr]uintptr
	del map[uintptr]bool
}

func (t *stubTx) UpdateCurrentThread() error { return nil }
func (t *stubTx) Abort() error { return nil }

func (t *stubTx) Redirect(original, replacement uintptr) error {
	t.add[original] = replacement
	return nil
}

func (t *stubTx) Reverse(original, _ uintptr) error {
	t.del[original] = true
	return nil
}

func (t *stubTx) Commit() error {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	for k, v := range t.add {
		t.e.live[k] = v
	}
	for k := range t.del {
		delete(t.e.live, k)
	}
	return nil
}

type engineFactory struct {
	mu      sync.Mutex
	engines []*stubEngine
}

func (f *engineFactory) new(library string, _ *zap.Logger) hook.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := newStubEngine(library)
	f.engines = append(f.engines, e)
	return e
}

func (f *engineFactory) last() *stubEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[len(f.engines)-1]
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Health.Port = "127.0.0.1:0"
	return cfg
}

func newTestAgent(t *testing.T, cfg *config.Config) (*Agent, *engineFactory) {
	t.Helper()
	f := &engineFactory{}
	a, err := newAgent(cfg, f.new, zap.NewNop())
	if err != nil {
		t.Fatalf("newAgent: %v", err)
	}
	t.Cleanup(func() { a.Stop() })
	return a, f
}

func TestStartInstallsHooks(t *testing.T) {
	a, f := newTestAgent(t, testConfig())

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := a.Status()
	if !st.Active {
		t.Fatalf("hooks not active: %+v", st)
	}
	if st.RefCount != 1 {
		t.Errorf("RefCount = %d, want 1", st.RefCount)
	}
	if got := f.last().liveCount(); got != len(hook.DefaultRedirects) {
		t.Errorf("live redirects = %d, want %d", got, len(hook.DefaultRedirects))
	}
	if hook.Default() != a.Manager() {
		t.Error("agent manager is not the process default")
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.Manager().IsActive() {
		t.Error("hooks still active after Stop")
	}
	if got := f.last().liveCount(); got != 0 {
		t.Errorf("live redirects after Stop = %d, want 0", got)
	}
}

func TestStartWithInterceptDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Intercept.Enabled = false
	a, _ := newTestAgent(t, cfg)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := a.Status(); st.Active || st.RefCount != 0 {
		t.Errorf("expected idle manager, got active=%v refcount=%d", st.Active, st.RefCount)
	}
}

func TestReloadTogglesInterception(t *testing.T) {
	a, f := newTestAgent(t, testConfig())
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	off := testConfig()
	off.Intercept.Enabled = false
	if err := a.Reload(off); err != nil {
		t.Fatalf("Reload off: %v", err)
	}
	if a.Manager().IsActive() {
		t.Error("hooks still active after disabling")
	}
	if len(f.engines) != 1 {
		t.Errorf("engines built = %d, want 1 (no rebuild for a toggle)", len(f.engines))
	}

	if err := a.Reload(testConfig()); err != nil {
		t.Fatalf("Reload on: %v", err)
	}
	if !a.Manager().IsActive() {
		t.Error("hooks not reinstalled after enabling")
	}
}

func TestReloadDisabledListRebuildsManager(t *testing.T) {
	a, f := newTestAgent(t, testConfig())
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := a.Manager()
	firstEngine := f.last()

	cfg := testConfig()
	cfg.Intercept.Disabled = []string{"CreateFile2", "ReplaceFileW"}
	if err := a.Reload(cfg); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if a.Manager() == first {
		t.Fatal("manager was not rebuilt")
	}
	if first.IsActive() || first.RefCount() != 0 {
		t.Error("previous manager still holds hooks")
	}
	if got := firstEngine.liveCount(); got != 0 {
		t.Errorf("previous engine live redirects = %d, want 0", got)
	}

	st := a.Status()
	if !st.Active {
		t.Fatal("rebuilt manager not active")
	}
	if len(st.Installed) != len(hook.DefaultRedirects)-2 {
		t.Errorf("installed = %d, want %d", len(st.Installed), len(hook.DefaultRedirects)-2)
	}
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	a, _ := newTestAgent(t, testConfig())

	bad := testConfig()
	bad.LogLevel = "loud"
	if err := a.Reload(bad); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestReloadKeepsManagerWhenDefaultInUse(t *testing.T) {
	a, _ := newTestAgent(t, testConfig())
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Another component holds the default manager.
	other := hook.Acquire()
	defer other.Close()

	cfg := testConfig()
	cfg.Intercept.EngineLibrary = "detours64.dll"
	err := a.Reload(cfg)
	if !errors.Is(err, hook.ErrDefaultInUse) {
		t.Fatalf("Reload error = %v, want ErrDefaultInUse", err)
	}
	if !a.Manager().IsActive() {
		t.Error("hooks dropped after failed rebuild")
	}
}

func TestHealthServerReportsHooks(t *testing.T) {
	a, _ := newTestAgent(t, testConfig())
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + a.HealthAddr() + "/ready")
	if err != nil {
		t.Fatalf("GET /ready: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/ready status = %d, want 200", resp.StatusCode)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Intercept.EngineLibrary = ""
	if _, err := New(cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error for missing engine library")
	}
}
