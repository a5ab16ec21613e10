// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build windows

package hook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"
)

func newBareDetoursEngine() *detoursEngine {
	return &detoursEngine{
		slots:  make(map[uintptr]*uintptr),
		loaded: make(map[string]Module),
	}
}

func TestResolveModuleReusesLoadedLibrary(t *testing.T) {
	e := newBareDetoursEngine()
	e.loaded["cached.dll"] = Module(0x1234)

	mod, err := e.ResolveModule("cached.dll")
	require.NoError(t, err)
	assert.Equal(t, Module(0x1234), mod)
}

func TestResolveModuleLoadsAtMostOnce(t *testing.T) {
	e := newBareDetoursEngine()

	first, err := e.ResolveModule("dbghelp.dll")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.ResolveModule("dbghelp.dll")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.LessOrEqual(t, len(e.loaded), 1)
}

func TestResolveModuleAlreadyLoadedTakesNoReference(t *testing.T) {
	e := newBareDetoursEngine()

	mod, err := e.ResolveModule(Kernel32Module)
	require.NoError(t, err)
	assert.NotZero(t, mod)
	assert.Empty(t, e.loaded)

	_, err = e.ResolveModule("no-such-module-fromapp.dll")
	assert.ErrorIs(t, err, ErrModuleNotFound)
	assert.Empty(t, e.loaded)
}

func TestDetourResult(t *testing.T) {
	assert.NoError(t, detourResult("DetourAttach", 0))
	err := detourResult("DetourAttach", uintptr(windows.ERROR_INVALID_BLOCK))
	assert.ErrorIs(t, err, windows.ERROR_INVALID_BLOCK)
	assert.Contains(t, err.Error(), "DetourAttach")
}
