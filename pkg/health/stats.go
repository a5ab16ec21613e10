// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/mbeema/fromapp/pkg/hook"
)

// StatusSource is what the health server reports on. *hook.Manager
// implements it.
type StatusSource interface {
	Status() hook.Status
}

// Stats combines process self-monitoring with the hook manager's view.
type Stats struct {
	startTime time.Time
	source    StatusSource
	proc      *process.Process
}

// NewStats creates a Stats reporting on source.
func NewStats(source StatusSource) *Stats {
	s := &Stats{
		startTime: time.Now(),
		source:    source,
	}
	// RSS is best effort; gopsutil may not support every platform.
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	}
	return s
}

// Uptime returns host uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Snapshot is a point-in-time copy of everything /metrics exposes.
type Snapshot struct {
	UptimeSeconds  float64
	Goroutines     int
	MemoryRSSBytes uint64
	Hook           hook.Status
}

// Snapshot returns current stats.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		UptimeSeconds: s.Uptime().Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		Hook:          s.source.Status(),
	}
	if s.proc != nil {
		if mem, err := s.proc.MemoryInfo(); err == nil {
			snap.MemoryRSSBytes = mem.RSS
		}
	}
	return snap
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics() string {
	return prometheusFormat(s.Snapshot())
}

func prometheusFormat(snap Snapshot) string {
	h := snap.Hook
	var active float64
	if h.Active {
		active = 1
	}

	var b []byte
	b = appendMetric(b, "fromapp_uptime_seconds", "gauge", "Host uptime in seconds", snap.UptimeSeconds)
	b = appendMetric(b, "fromapp_goroutines", "gauge", "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "fromapp_memory_rss_bytes", "gauge", "Resident set size in bytes", float64(snap.MemoryRSSBytes))
	b = appendMetric(b, "fromapp_hooks_active", "gauge", "1 while the file api hooks are installed", active)
	b = appendMetric(b, "fromapp_hook_references", "gauge", "Outstanding hook handles", float64(h.RefCount))
	b = appendMetric(b, "fromapp_hooks_installed", "gauge", "Redirects currently installed", float64(len(h.Installed)))
	b = appendMetric(b, "fromapp_hooks_skipped", "gauge", "Redirects skipped by the last install", float64(len(h.Skipped)))
	b = appendMetric(b, "fromapp_hook_acquires_total", "counter", "References taken", float64(h.Stats.Acquires))
	b = appendMetric(b, "fromapp_hook_releases_total", "counter", "References released", float64(h.Stats.Releases))
	b = appendMetric(b, "fromapp_hook_installs_total", "counter", "Successful hook installs", float64(h.Stats.Installs))
	b = appendMetric(b, "fromapp_hook_install_failures_total", "counter", "Hook installs aborted by the engine", float64(h.Stats.InstallFailures))
	b = appendMetric(b, "fromapp_hook_teardowns_total", "counter", "Hook teardowns", float64(h.Stats.Teardowns))
	b = appendMetric(b, "fromapp_hook_resolve_misses_total", "counter", "Symbols that could not be resolved", float64(h.Stats.ResolveMisses))
	b = appendMetric(b, "fromapp_hook_redirect_errors_total", "counter", "Redirects the engine refused to stage", float64(h.Stats.RedirectErrors))
	b = appendMetric(b, "fromapp_hook_reverse_errors_total", "counter", "Redirects the engine failed to reverse", float64(h.Stats.ReverseErrors))
	b = appendMetric(b, "fromapp_hook_commit_errors_total", "counter", "Engine transactions that failed to commit", float64(h.Stats.CommitErrors))
	b = appendMetric(b, "fromapp_hook_extra_releases_total", "counter", "Releases without a matching acquire", float64(h.Stats.ExtraReleases))
	return string(b)
}

func appendMetric(b []byte, name, typ, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, '\n')
	b = append(b, "# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'g', -1, 64)
	b = append(b, '\n')
	return b
}
