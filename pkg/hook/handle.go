// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"io"
	"runtime"
	"sync"
)

// Handle is one consumer's reference on a Manager's hooks. Close gives the
// reference back exactly once. A Handle that becomes unreachable without
// Close is released by its finalizer.
//
//	h := hook.Acquire()
//	defer h.Close()
type Handle struct {
	m    *Manager
	once sync.Once
}

var _ io.Closer = (*Handle)(nil)

func newHandle(m *Manager) *Handle {
	h := &Handle{m: m}
	runtime.SetFinalizer(h, (*Handle).finalize)
	return h
}

// Close releases the reference. Later calls do nothing. It always returns nil.
func (h *Handle) Close() error {
	h.once.Do(func() {
		runtime.SetFinalizer(h, nil)
		h.m.release()
	})
	return nil
}

// Active reports whether the hooks behind this handle are installed.
func (h *Handle) Active() bool {
	return h.m.IsActive()
}

func (h *Handle) finalize() {
	h.m.logger.Debug("hook handle collected without Close")
	h.Close()
}
