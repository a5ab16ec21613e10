package hook

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultManager(t *testing.T) {
	m := newTestManager(newFakeEngine())
	require.NoError(t, SetDefault(m))
	t.Cleanup(func() { SetDefault(nil) })

	assert.Same(t, m, Default())
	assert.False(t, IsActive())

	h := Acquire()
	assert.True(t, IsActive())

	other := newTestManager(newFakeEngine())
	assert.ErrorIs(t, SetDefault(other), ErrDefaultInUse)
	assert.Same(t, m, Default())

	h.Close()
	assert.False(t, IsActive())
	assert.NoError(t, SetDefault(other))
	assert.Same(t, other, Default())
}

func TestDefaultManagerBuildsPlatformEngine(t *testing.T) {
	require.NoError(t, SetDefault(nil))
	t.Cleanup(func() { SetDefault(nil) })

	m := Default()
	require.NotNil(t, m)
	assert.Equal(t, DefaultRedirects, m.Redirects())

	if runtime.GOOS != "windows" {
		h := Acquire()
		assert.False(t, IsActive())
		h.Close()
		assert.Equal(t, "unsupported", m.Status().Engine)
	}
}

func TestAcquireOnReplacedDefaultMovesToSuccessor(t *testing.T) {
	e := newFakeEngine()
	old := newTestManager(e)
	require.NoError(t, SetDefault(old))
	t.Cleanup(func() { SetDefault(nil) })

	got := Default()
	repl := newTestManager(e)
	require.NoError(t, SetDefault(repl))
	h := got.Acquire()

	assert.Zero(t, old.RefCount())
	assert.False(t, old.IsActive(), "replaced manager must not install hooks")
	assert.Equal(t, 1, repl.RefCount())
	assert.True(t, IsActive())
	assert.True(t, h.Active())
	assert.Len(t, e.appliedCopy(), len(DefaultRedirects))
	assert.Equal(t, e.appliedCopy(), repl.Hooks())

	h2 := old.Acquire()
	assert.Equal(t, 2, repl.RefCount())

	h.Close()
	h2.Close()
	assert.False(t, IsActive())
	assert.Empty(t, e.appliedCopy())
	assert.EqualValues(t, 0, old.Stats().Acquires.Load())
}

func TestReplacedManagerCanBeReinstated(t *testing.T) {
	e := newFakeEngine()
	first := newTestManager(e)
	second := newTestManager(e)
	require.NoError(t, SetDefault(first))
	t.Cleanup(func() { SetDefault(nil) })

	require.NoError(t, SetDefault(second))
	require.NoError(t, SetDefault(first))

	h := first.Acquire()
	defer h.Close()
	assert.Equal(t, 1, first.RefCount())
	assert.Zero(t, second.RefCount())
}

func TestConcurrentDefaultSwapNeverStrandsHooks(t *testing.T) {
	e := newFakeEngine()
	require.NoError(t, SetDefault(newTestManager(e)))
	t.Cleanup(func() { SetDefault(nil) })

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				// ErrDefaultInUse while a handle is held is expected.
				_ = SetDefault(newTestManager(e))
			}
		}
	}()

	for i := 0; i < 500; i++ {
		h := Default().Acquire()
		if !h.Active() || len(e.appliedCopy()) != len(DefaultRedirects) {
			t.Errorf("iteration %d: active=%v applied=%d", i, h.Active(), len(e.appliedCopy()))
		}
		h.Close()
	}
	close(stop)
	wg.Wait()

	assert.False(t, IsActive())
	assert.Empty(t, e.appliedCopy())
	_, _, _, overlaps := e.counts()
	assert.Zero(t, overlaps)
}
