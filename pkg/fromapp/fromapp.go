// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package fromapp calls the fileapifromapp.h entry points directly. Inside a
// packaged (MSIX/UWP) process these succeed for every location the package
// has a capability for, where the plain kernel32 calls are refused.
//
// The functions work whether or not pkg/hook has redirected the kernel32
// entry points; they never rely on interception.
package fromapp

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ModuleName is the API set exporting the *FromAppW functions.
const ModuleName = "api-ms-win-core-file-fromapp-l1-1-0.dll"

// ErrUnsupported means the fromapp API set is not available.
var ErrUnsupported = errors.New("fromapp file api unsupported")

// Windows file attribute bits used by SetAttributes and FileInfo.Sys.
const (
	AttributeReadonly     uint32 = 0x00000001
	AttributeHidden       uint32 = 0x00000002
	AttributeSystem       uint32 = 0x00000004
	AttributeDirectory    uint32 = 0x00000010
	AttributeArchive      uint32 = 0x00000020
	AttributeNormal       uint32 = 0x00000080
	AttributeReparsePoint uint32 = 0x00000400
)

// fileMode converts Windows attributes into an fs.FileMode the way the os
// package does for Windows.
func fileMode(attrs uint32) fs.FileMode {
	var m fs.FileMode
	if attrs&AttributeReadonly != 0 {
		m |= 0444
	} else {
		m |= 0666
	}
	if attrs&AttributeDirectory != 0 {
		m |= fs.ModeDir | 0111
	}
	if attrs&AttributeReparsePoint != 0 {
		m |= fs.ModeIrregular
	}
	return m
}

// fullPath resolves name to an absolute path; the fromapp entry points
// reject relative paths.
func fullPath(op, name string) (string, error) {
	if name == "" {
		return "", &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", &fs.PathError{Op: op, Path: name, Err: err}
	}
	return abs, nil
}

// ReadFile reads the whole of name.
func ReadFile(name string) ([]byte, error) {
	f, err := Open(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WriteFile writes data to name, creating it with perm or truncating it.
func WriteFile(name string, data []byte, perm fs.FileMode) error {
	f, err := Open(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// RemoveAll removes name and everything below it. A missing name is not an
// error.
func RemoveAll(name string) error {
	fi, err := Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if !fi.IsDir() || fi.Mode()&fs.ModeIrregular != 0 {
		return Remove(name)
	}

	entries, err := ReadDir(name)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if err := RemoveAll(filepath.Join(name, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return Remove(name)
}
