// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"
)

// rootOptions carries flags shared by every subcommand.
type rootOptions struct {
	configPath string
	plain      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "mdrd",
		Short: "Exception coordination daemon for multi-domain systems",
		Long:  `mdrd receives fault reports from the application processor and its
coprocessors, notifies the affected domains to dump diagnostics, hands the
fault record to a user-space log daemon, and resets what the fault class
says to reset.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the mdrd YAML config")
	root.PersistentFlags().BoolVar(&opts.plain, "plain", false, "Disable styled output")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newShowCmd(opts))
	root.AddCommand(newListenCmd(opts))
	root.AddCommand(newRaiseCmd(opts))
	return root
}
