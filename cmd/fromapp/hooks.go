// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/mbeema/fromapp/pkg/agent"
	"github.com/spf13/cobra"
)

var errNoControlDir = errors.New("intercept.control_dir is not configured")

func newHooksCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "hooks",
		Short: "Switch interception on or off in a running agent",
	}

	for _, sub := range []struct {
		use, short string
		set        *bool
	}{
		{"on", "Ask the running agent to install the hooks", ptr(true)},
		{"off", "Ask the running agent to remove the hooks", ptr(false)},
		{"status", "Show the running agent's switch", nil},
	} {
		set := sub.set
		command.AddCommand(&cobra.Command{
			Use:   sub.use,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, logger, err := setup()
				if err != nil {
					return err
				}
				defer logger.Sync()
				return runHooks(cmd.OutOrStdout(), cfg.Intercept.ControlDir, set)
			},
		})
	}
	return command
}

func ptr(b bool) *bool { return &b }

// runHooks writes *set to the control file when set is non-nil and prints
// the resulting state.
func runHooks(w io.Writer, dir string, set *bool) error {
	if dir == "" {
		return errNoControlDir
	}

	ctl, err := agent.OpenControlFile(dir)
	if err != nil {
		return fmt.Errorf("is the agent running? %w", err)
	}
	defer ctl.Close()

	if set != nil {
		if err := ctl.Set(*set); err != nil {
			return fmt.Errorf("write control file: %w", err)
		}
	}

	on, err := ctl.Enabled()
	if err != nil {
		return fmt.Errorf("read control file: %w", err)
	}
	state := "off"
	if on {
		state = "on"
	}
	fmt.Fprintf(w, "interception %s (%s)\n", state, ctl.Path())
	return nil
}
