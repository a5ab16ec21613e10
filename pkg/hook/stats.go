// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import "sync/atomic"

// Stats counts Manager lifecycle events. Counters only grow.
type Stats struct {
	Acquires        atomic.Int64
	Releases        atomic.Int64
	ExtraReleases   atomic.Int64
	Installs        atomic.Int64
	InstallFailures atomic.Int64
	Teardowns       atomic.Int64
	ResolveMisses   atomic.Int64
	RedirectErrors  atomic.Int64
	ReverseErrors   atomic.Int64
	CommitErrors    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Acquires        int64 `json:"acquires"`
	Releases        int64 `json:"releases"`
	ExtraReleases   int64 `json:"extra_releases"`
	Installs        int64 `json:"installs"`
	InstallFailures int64 `json:"install_failures"`
	Teardowns       int64 `json:"teardowns"`
	ResolveMisses   int64 `json:"resolve_misses"`
	RedirectErrors  int64 `json:"redirect_errors"`
	ReverseErrors   int64 `json:"reverse_errors"`
	CommitErrors    int64 `json:"commit_errors"`
}

// Snapshot returns current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Acquires:        s.Acquires.Load(),
		Releases:        s.Releases.Load(),
		ExtraReleases:   s.ExtraReleases.Load(),
		Installs:        s.Installs.Load(),
		InstallFailures: s.InstallFailures.Load(),
		Teardowns:       s.Teardowns.Load(),
		ResolveMisses:   s.ResolveMisses.Load(),
		RedirectErrors:  s.RedirectErrors.Load(),
		ReverseErrors:   s.ReverseErrors.Load(),
		CommitErrors:    s.CommitErrors.Load(),
	}
}

// InstalledHook is one active redirect as reported by Status.
type InstalledHook struct {
	Redirect
	Original    uintptr `json:"original"`
	Replacement uintptr `json:"replacement"`
}

// SkippedRedirect is a redirect the last install could not apply.
type SkippedRedirect struct {
	Redirect
	Reason string `json:"reason"`
}

// Status is a consistent view of the Manager taken under its lock.
type Status struct {
	Engine    string            `json:"engine"`
	Active    bool              `json:"active"`
	RefCount  int               `json:"ref_count"`
	Installed []InstalledHook   `json:"installed"`
	Skipped   []SkippedRedirect `json:"skipped,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	Stats     StatsSnapshot     `json:"stats"`
}
