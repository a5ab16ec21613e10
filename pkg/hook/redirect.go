// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"fmt"
	"strings"
)

// Module names used by the default redirect table.
const (
	Kernel32Module = "KERNEL32.dll"
	FromAppModule  = "api-ms-win-core-file-fromapp-l1-1-0.dll"
)

// Redirect describes one export to intercept and its replacement.
type Redirect struct {
	SourceModule string `json:"source_module"`
	TargetModule string `json:"target_module"`
	SourceSymbol string `json:"source_symbol"`
	TargetSymbol string `json:"target_symbol"`
}

func (r Redirect) String() string {
	return fmt.Sprintf("%s!%s -> %s!%s", r.SourceModule, r.SourceSymbol, r.TargetModule, r.TargetSymbol)
}

func fromApp(source, target string) Redirect {
	return Redirect{
		SourceModule: Kernel32Module,
		TargetModule: FromAppModule,
		SourceSymbol: source,
		TargetSymbol: target,
	}
}

// DefaultRedirects maps the unrestricted fileapi.h entry points onto their
// fileapifromapp.h counterparts.
var DefaultRedirects = []Redirect{
	fromApp("CopyFileW", "CopyFileFromAppW"),
	fromApp("CreateDirectoryW", "CreateDirectoryFromAppW"),
	fromApp("CreateFile2", "CreateFile2FromAppW"),
	fromApp("CreateFileW", "CreateFileFromAppW"),
	fromApp("DeleteFileW", "DeleteFileFromAppW"),
	fromApp("FindFirstFileExW", "FindFirstFileExFromAppW"),
	fromApp("GetFileAttributesExW", "GetFileAttributesExFromAppW"),
	fromApp("MoveFileW", "MoveFileFromAppW"),
	fromApp("RemoveDirectoryW", "RemoveDirectoryFromAppW"),
	fromApp("ReplaceFileW", "ReplaceFileFromAppW"),
	fromApp("SetFileAttributesW", "SetFileAttributesFromAppW"),
}

// ValidateRedirects checks that every entry is fully named and that no
// source export is redirected twice. Module names compare case-insensitively,
// like the Windows loader does.
func ValidateRedirects(table []Redirect) error {
	seen := make(map[string]int, len(table))
	for i, r := range table {
		if r.SourceModule == "" || r.TargetModule == "" || r.SourceSymbol == "" || r.TargetSymbol == "" {
			return fmt.Errorf("redirect %d: module and symbol names are required", i)
		}
		if strings.TrimSpace(r.SourceSymbol) != r.SourceSymbol || strings.TrimSpace(r.TargetSymbol) != r.TargetSymbol {
			return fmt.Errorf("redirect %d (%s): symbol names must not carry whitespace", i, r)
		}
		key := strings.ToLower(r.SourceModule) + "!" + r.SourceSymbol
		if j, ok := seen[key]; ok {
			return fmt.Errorf("redirect %d (%s) repeats redirect %d: %w", i, r, j, ErrDuplicateRedirect)
		}
		seen[key] = i
	}
	return nil
}

// FilterRedirects returns table without the entries whose source symbol is
// listed in disabled. The result never contains entries absent from table.
func FilterRedirects(table []Redirect, disabled []string) []Redirect {
	if len(disabled) == 0 {
		return append([]Redirect(nil), table...)
	}
	skip := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		skip[strings.TrimSpace(name)] = true
	}

	out := make([]Redirect, 0, len(table))
	for _, r := range table {
		if skip[r.SourceSymbol] {
			continue
		}
		out = append(out, r)
	}
	return out
}
