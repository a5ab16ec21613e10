// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"text/tabwriter"

	"github.com/mbeema/fromapp/pkg/fromapp"
	"github.com/mbeema/fromapp/pkg/hook"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/cobra"
)

var checkArgs struct {
	JSON bool
}

func newCheckCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "check",
		Short: "Install the hooks once, report what was redirected, then remove them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			engine := hook.NewEngine(cfg.Intercept.EngineLibrary, logger)
			m := hook.NewManager(engine, cfg.Intercept.Redirects(), logger)
			return runCheck(cmd.OutOrStdout(), m, checkArgs.JSON)
		},
	}

	command.Flags().BoolVar(&checkArgs.JSON, "json", false, "print the report as JSON")
	return command
}

type checkReport struct {
	Platform string      `json:"platform"`
	Arch     string      `json:"arch"`
	FromApp  bool        `json:"fromapp_available"`
	Status   hook.Status `json:"status"`
}

func runCheck(w io.Writer, m *hook.Manager, asJSON bool) error {
	h := m.Acquire()
	report := checkReport{
		Platform: platform(),
		Arch:     runtime.GOARCH,
		FromApp:  fromapp.Available(),
		Status:   m.Status(),
	}
	h.Close()

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	st := report.Status
	fmt.Fprintf(w, "platform: %s/%s\n", report.Platform, report.Arch)
	fmt.Fprintf(w, "fromapp:  %v\n", report.FromApp)
	fmt.Fprintf(w, "engine:   %s\n", st.Engine)
	fmt.Fprintf(w, "active:   %v\n", st.Active)
	if st.LastError != "" {
		fmt.Fprintf(w, "error:    %s\n", st.LastError)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTARGET\tSTATE")
	for _, ih := range st.Installed {
		fmt.Fprintf(tw, "%s!%s\t%s!%s\tinstalled\n", ih.SourceModule, ih.SourceSymbol, ih.TargetModule, ih.TargetSymbol)
	}
	for _, sk := range st.Skipped {
		fmt.Fprintf(tw, "%s!%s\t%s!%s\tskipped: %s\n", sk.SourceModule, sk.SourceSymbol, sk.TargetModule, sk.TargetSymbol, sk.Reason)
	}
	return tw.Flush()
}

func platform() string {
	info, err := host.Info()
	if err != nil || info.Platform == "" {
		return runtime.GOOS
	}
	if info.PlatformVersion != "" {
		return info.Platform + " " + info.PlatformVersion
	}
	return info.Platform
}
