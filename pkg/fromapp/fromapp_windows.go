// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build windows

package fromapp

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modfromapp  = windows.NewLazySystemDLL(ModuleName)
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procCopyFileFromAppW            = modfromapp.NewProc("CopyFileFromAppW")
	procCreateDirectoryFromAppW     = modfromapp.NewProc("CreateDirectoryFromAppW")
	procCreateFileFromAppW          = modfromapp.NewProc("CreateFileFromAppW")
	procDeleteFileFromAppW          = modfromapp.NewProc("DeleteFileFromAppW")
	procFindFirstFileExFromAppW     = modfromapp.NewProc("FindFirstFileExFromAppW")
	procGetFileAttributesExFromAppW = modfromapp.NewProc("GetFileAttributesExFromAppW")
	procMoveFileFromAppW            = modfromapp.NewProc("MoveFileFromAppW")
	procRemoveDirectoryFromAppW     = modfromapp.NewProc("RemoveDirectoryFromAppW")
	procReplaceFileFromAppW         = modfromapp.NewProc("ReplaceFileFromAppW")
	procSetFileAttributesFromAppW   = modfromapp.NewProc("SetFileAttributesFromAppW")

	procFindNextFileW = modkernel32.NewProc("FindNextFileW")
)

const (
	findExInfoBasic       = 1
	findExSearchNameMatch = 0
	findFirstExLargeFetch = 2
	getFileExInfoStandard = 0
)

// win32FindData mirrors WIN32_FIND_DATAW. windows.Win32finddata is one
// element short in FileName and cannot be handed to the API directly.
type win32FindData struct {
	FileAttributes    uint32
	CreationTime      windows.Filetime
	LastAccessTime    windows.Filetime
	LastWriteTime     windows.Filetime
	FileSizeHigh      uint32
	FileSizeLow       uint32
	Reserved0         uint32
	Reserved1         uint32
	FileName          [windows.MAX_PATH]uint16
	AlternateFileName [14]uint16
}

// Available reports whether the fromapp API set can be loaded.
func Available() bool {
	return modfromapp.Load() == nil && procCreateFileFromAppW.Find() == nil
}

// find loads p. Pointer arguments must be converted inside the p.Call
// argument list itself, so callers cannot share a variadic wrapper.
func find(p *windows.LazyProc) error {
	if err := p.Find(); err != nil {
		return ErrUnsupported
	}
	return nil
}

// boolResult interprets a BOOL-returning call.
func boolResult(r1 uintptr, e1 error) error {
	if r1 != 0 {
		return nil
	}
	if e1 == nil || e1 == windows.ERROR_SUCCESS {
		return syscall.EINVAL
	}
	return e1
}

func utf16(s string) (*uint16, error) {
	return windows.UTF16PtrFromString(s)
}

// CopyFile copies src to dst. With failIfExists set an existing dst is an error.
func CopyFile(src, dst string, failIfExists bool) error {
	s, err := fullPath("copyfile", src)
	if err != nil {
		return err
	}
	d, err := fullPath("copyfile", dst)
	if err != nil {
		return err
	}
	ps, err := utf16(s)
	if err != nil {
		return &fs.PathError{Op: "copyfile", Path: src, Err: err}
	}
	pd, err := utf16(d)
	if err != nil {
		return &fs.PathError{Op: "copyfile", Path: dst, Err: err}
	}

	var fail uintptr
	if failIfExists {
		fail = 1
	}
	if err := find(procCopyFileFromAppW); err != nil {
		return &os.LinkError{Op: "copyfile", Old: src, New: dst, Err: err}
	}
	r1, _, e1 := procCopyFileFromAppW.Call(uintptr(unsafe.Pointer(ps)), uintptr(unsafe.Pointer(pd)), fail)
	if err := boolResult(r1, e1); err != nil {
		return &os.LinkError{Op: "copyfile", Old: src, New: dst, Err: err}
	}
	return nil
}

// Mkdir creates a single directory.
func Mkdir(name string) error {
	p, err := fullPath("mkdir", name)
	if err != nil {
		return err
	}
	u, err := utf16(p)
	if err != nil {
		return &fs.PathError{Op: "mkdir", Path: name, Err: err}
	}
	if err := find(procCreateDirectoryFromAppW); err != nil {
		return &fs.PathError{Op: "mkdir", Path: name, Err: err}
	}
	r1, _, e1 := procCreateDirectoryFromAppW.Call(uintptr(unsafe.Pointer(u)), 0)
	if err := boolResult(r1, e1); err != nil {
		return &fs.PathError{Op: "mkdir", Path: name, Err: err}
	}
	return nil
}

// MkdirAll creates name and any missing parents.
func MkdirAll(name string) error {
	p, err := fullPath("mkdir", name)
	if err != nil {
		return err
	}
	if fi, err := Stat(p); err == nil {
		if fi.IsDir() {
			return nil
		}
		return &fs.PathError{Op: "mkdir", Path: name, Err: syscall.ENOTDIR}
	}

	parent := filepath.Dir(p)
	if parent != p {
		if err := MkdirAll(parent); err != nil {
			return err
		}
	}

	err = Mkdir(p)
	if err != nil && errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		return nil
	}
	return err
}

// Open opens name with os.OpenFile flag semantics and returns an *os.File
// over the handle. Directories can be opened for reading.
func Open(name string, flag int, perm fs.FileMode) (*os.File, error) {
	p, err := fullPath("open", name)
	if err != nil {
		return nil, err
	}
	u, err := utf16(p)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if err := find(procCreateFileFromAppW); err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	access, disposition, attrs := openArgs(flag, perm)
	r1, _, e1 := procCreateFileFromAppW.Call(
		uintptr(unsafe.Pointer(u)),
		uintptr(access),
		uintptr(windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE),
		0,
		uintptr(disposition),
		uintptr(attrs),
		0,
	)
	h := windows.Handle(r1)
	if h == windows.InvalidHandle {
		return nil, &fs.PathError{Op: "open", Path: name, Err: e1}
	}
	return os.NewFile(uintptr(h), name), nil
}

// openArgs maps os.OpenFile flags onto CreateFile arguments.
func openArgs(flag int, perm fs.FileMode) (access, disposition, attrs uint32) {
	switch flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_RDONLY:
		access = windows.GENERIC_READ
	case os.O_WRONLY:
		access = windows.GENERIC_WRITE
	case os.O_RDWR:
		access = windows.GENERIC_READ | windows.GENERIC_WRITE
	}
	if flag&os.O_CREATE != 0 {
		access |= windows.GENERIC_WRITE
	}
	if flag&os.O_APPEND != 0 {
		access &^= windows.GENERIC_WRITE
		access |= windows.FILE_APPEND_DATA
	}

	switch {
	case flag&(os.O_CREATE|os.O_EXCL) == (os.O_CREATE | os.O_EXCL):
		disposition = windows.CREATE_NEW
	case flag&(os.O_CREATE|os.O_TRUNC) == (os.O_CREATE | os.O_TRUNC):
		disposition = windows.CREATE_ALWAYS
	case flag&os.O_CREATE == os.O_CREATE:
		disposition = windows.OPEN_ALWAYS
	case flag&os.O_TRUNC == os.O_TRUNC:
		disposition = windows.TRUNCATE_EXISTING
	default:
		disposition = windows.OPEN_EXISTING
	}

	attrs = windows.FILE_ATTRIBUTE_NORMAL | windows.FILE_FLAG_BACKUP_SEMANTICS
	if flag&os.O_CREATE != 0 && perm&0200 == 0 {
		attrs = windows.FILE_ATTRIBUTE_READONLY | windows.FILE_FLAG_BACKUP_SEMANTICS
	}
	return access, disposition, attrs
}

// Remove deletes a file or an empty directory.
func Remove(name string) error {
	p, err := fullPath("remove", name)
	if err != nil {
		return err
	}
	u, err := utf16(p)
	if err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}

	if err := find(procDeleteFileFromAppW); err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	if err := find(procRemoveDirectoryFromAppW); err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}

	r1, _, e1 := procDeleteFileFromAppW.Call(uintptr(unsafe.Pointer(u)))
	fileErr := boolResult(r1, e1)
	if fileErr == nil {
		return nil
	}
	r1, _, e1 = procRemoveDirectoryFromAppW.Call(uintptr(unsafe.Pointer(u)))
	dirErr := boolResult(r1, e1)
	if dirErr == nil {
		return nil
	}

	// Report the error that matches what name actually is.
	if fi, err := Stat(p); err == nil && fi.IsDir() {
		return &fs.PathError{Op: "remove", Path: name, Err: dirErr}
	}
	return &fs.PathError{Op: "remove", Path: name, Err: fileErr}
}

// Rename moves oldname to newname. An existing newname is an error.
func Rename(oldname, newname string) error {
	o, err := fullPath("rename", oldname)
	if err != nil {
		return err
	}
	n, err := fullPath("rename", newname)
	if err != nil {
		return err
	}
	po, err := utf16(o)
	if err != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: err}
	}
	pn, err := utf16(n)
	if err != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: err}
	}
	if err := find(procMoveFileFromAppW); err != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: err}
	}
	r1, _, e1 := procMoveFileFromAppW.Call(uintptr(unsafe.Pointer(po)), uintptr(unsafe.Pointer(pn)))
	if err := boolResult(r1, e1); err != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: err}
	}
	return nil
}

// Replace replaces replaced with replacement, optionally keeping a backup
// of replaced. backup may be empty.
func Replace(replaced, replacement, backup string) error {
	r, err := fullPath("replace", replaced)
	if err != nil {
		return err
	}
	s, err := fullPath("replace", replacement)
	if err != nil {
		return err
	}
	pr, err := utf16(r)
	if err != nil {
		return &fs.PathError{Op: "replace", Path: replaced, Err: err}
	}
	ps, err := utf16(s)
	if err != nil {
		return &fs.PathError{Op: "replace", Path: replacement, Err: err}
	}

	var pb *uint16
	if backup != "" {
		b, err := fullPath("replace", backup)
		if err != nil {
			return err
		}
		if pb, err = utf16(b); err != nil {
			return &fs.PathError{Op: "replace", Path: backup, Err: err}
		}
	}

	if err := find(procReplaceFileFromAppW); err != nil {
		return &os.LinkError{Op: "replace", Old: replacement, New: replaced, Err: err}
	}
	r1, _, e1 := procReplaceFileFromAppW.Call(
		uintptr(unsafe.Pointer(pr)),
		uintptr(unsafe.Pointer(ps)),
		uintptr(unsafe.Pointer(pb)),
		0, 0, 0,
	)
	if err := boolResult(r1, e1); err != nil {
		return &os.LinkError{Op: "replace", Old: replacement, New: replaced, Err: err}
	}
	return nil
}

// SetAttributes sets the Windows attribute bits of name.
func SetAttributes(name string, attrs uint32) error {
	p, err := fullPath("chattr", name)
	if err != nil {
		return err
	}
	u, err := utf16(p)
	if err != nil {
		return &fs.PathError{Op: "chattr", Path: name, Err: err}
	}
	if err := find(procSetFileAttributesFromAppW); err != nil {
		return &fs.PathError{Op: "chattr", Path: name, Err: err}
	}
	r1, _, e1 := procSetFileAttributesFromAppW.Call(uintptr(unsafe.Pointer(u)), uintptr(attrs))
	if err := boolResult(r1, e1); err != nil {
		return &fs.PathError{Op: "chattr", Path: name, Err: err}
	}
	return nil
}

// Stat returns file information for name.
func Stat(name string) (fs.FileInfo, error) {
	p, err := fullPath("stat", name)
	if err != nil {
		return nil, err
	}
	u, err := utf16(p)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}

	if err := find(procGetFileAttributesExFromAppW); err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}

	var data windows.Win32FileAttributeData
	r1, _, e1 := procGetFileAttributesExFromAppW.Call(
		uintptr(unsafe.Pointer(u)),
		getFileExInfoStandard,
		uintptr(unsafe.Pointer(&data)),
	)
	if err := boolResult(r1, e1); err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}

	return &fileInfo{
		name:    filepath.Base(p),
		attrs:   data.FileAttributes,
		size:    int64(data.FileSizeHigh)<<32 | int64(data.FileSizeLow),
		modTime: time.Unix(0, data.LastWriteTime.Nanoseconds()),
	}, nil
}

// Exists reports whether name can be stat'ed.
func Exists(name string) bool {
	_, err := Stat(name)
	return err == nil
}

// ReadDir lists dir, skipping "." and "..".
func ReadDir(dir string) ([]fs.DirEntry, error) {
	p, err := fullPath("readdir", dir)
	if err != nil {
		return nil, err
	}
	u, err := utf16(filepath.Join(p, "*"))
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: dir, Err: err}
	}
	if err := find(procFindFirstFileExFromAppW); err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: dir, Err: err}
	}
	if err := find(procFindNextFileW); err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: dir, Err: err}
	}

	var data win32FindData
	r1, _, e1 := procFindFirstFileExFromAppW.Call(
		uintptr(unsafe.Pointer(u)),
		findExInfoBasic,
		uintptr(unsafe.Pointer(&data)),
		findExSearchNameMatch,
		0,
		findFirstExLargeFetch,
	)
	h := windows.Handle(r1)
	if h == windows.InvalidHandle {
		if e1 == windows.ERROR_FILE_NOT_FOUND {
			return nil, nil
		}
		return nil, &fs.PathError{Op: "readdir", Path: dir, Err: e1}
	}
	defer windows.FindClose(h)

	var entries []fs.DirEntry
	for {
		name := windows.UTF16ToString(data.FileName[:])
		if name != "." && name != ".." {
			entries = append(entries, fs.FileInfoToDirEntry(&fileInfo{
				name:    name,
				attrs:   data.FileAttributes,
				size:    int64(data.FileSizeHigh)<<32 | int64(data.FileSizeLow),
				modTime: time.Unix(0, data.LastWriteTime.Nanoseconds()),
			}))
		}

		r1, _, e1 := procFindNextFileW.Call(uintptr(h), uintptr(unsafe.Pointer(&data)))
		if err := boolResult(r1, e1); err != nil {
			if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
				return entries, nil
			}
			return entries, &fs.PathError{Op: "readdir", Path: dir, Err: err}
		}
	}
}

type fileInfo struct {
	name    string
	attrs   uint32
	size    int64
	modTime time.Time
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() fs.FileMode  { return fileMode(fi.attrs) }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.attrs&AttributeDirectory != 0 }

// Sys returns the Windows attribute bits.
func (fi *fileInfo) Sys() any { return fi.attrs }
