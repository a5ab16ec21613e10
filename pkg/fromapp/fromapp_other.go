// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build !windows

package fromapp

import (
	"io/fs"
	"os"
)

// Available is always false outside Windows.
func Available() bool { return false }

func CopyFile(src, dst string, _ bool) error {
	return &os.LinkError{Op: "copyfile", Old: src, New: dst, Err: ErrUnsupported}
}

func Mkdir(name string) error {
	return &fs.PathError{Op: "mkdir", Path: name, Err: ErrUnsupported}
}

func MkdirAll(name string) error {
	return &fs.PathError{Op: "mkdir", Path: name, Err: ErrUnsupported}
}

func Open(name string, _ int, _ fs.FileMode) (*os.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: ErrUnsupported}
}

func Remove(name string) error {
	return &fs.PathError{Op: "remove", Path: name, Err: ErrUnsupported}
}

func Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: ErrUnsupported}
}

func Replace(replaced, replacement, _ string) error {
	return &os.LinkError{Op: "replace", Old: replacement, New: replaced, Err: ErrUnsupported}
}

func SetAttributes(name string, _ uint32) error {
	return &fs.PathError{Op: "chattr", Path: name, Err: ErrUnsupported}
}

func Stat(name string) (fs.FileInfo, error) {
	return nil, &fs.PathError{Op: "stat", Path: name, Err: ErrUnsupported}
}

func Exists(string) bool { return false }

func ReadDir(dir string) ([]fs.DirEntry, error) {
	return nil, &fs.PathError{Op: "readdir", Path: dir, Err: ErrUnsupported}
}
