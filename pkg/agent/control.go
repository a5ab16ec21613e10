// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package agent

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	controlFileName = "intercept.ctl"
	controlFileSize = 16
)

// ControlFile is a one-byte switch shared between a running agent and the
// CLI:
//   - 0 = hooks released
//   - 1 = hooks held
//
// The agent polls the byte and acquires or releases its handle to match, so
// `fromapp hooks off` takes effect without touching the config files.
type ControlFile struct {
	path string
	file *os.File
}

// CreateControlFile creates (or truncates) the control file in dir and
// initializes it to enabled.
func CreateControlFile(dir string, enabled bool) (*ControlFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create control dir: %w", err)
	}
	path := filepath.Join(dir, controlFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create control file: %w", err)
	}
	if err := f.Truncate(controlFileSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate control file: %w", err)
	}

	c := &ControlFile{path: path, file: f}
	if err := c.Set(enabled); err != nil {
		f.Close()
		return nil, fmt.Errorf("init control file: %w", err)
	}
	return c, nil
}

// OpenControlFile opens an existing control file. Used by the hooks
// subcommands to talk to a running agent.
func OpenControlFile(dir string) (*ControlFile, error) {
	path := filepath.Join(dir, controlFileName)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open control file %s: %w", path, err)
	}
	return &ControlFile{path: path, file: f}, nil
}

// Set writes the switch.
func (c *ControlFile) Set(enabled bool) error {
	var b byte
	if enabled {
		b = 1
	}
	_, err := c.file.WriteAt([]byte{b}, 0)
	return err
}

// Enabled reads the switch.
func (c *ControlFile) Enabled() (bool, error) {
	buf := make([]byte, 1)
	if _, err := c.file.ReadAt(buf, 0); err != nil {
		return false, err
	}
	return buf[0] != 0, nil
}

// Close closes the file handle. It does not remove the file.
func (c *ControlFile) Close() error {
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}

// Remove closes and deletes the control file.
func (c *ControlFile) Remove() error {
	c.Close()
	return os.Remove(c.path)
}

// Path returns the control file path.
func (c *ControlFile) Path() string {
	return c.path
}
