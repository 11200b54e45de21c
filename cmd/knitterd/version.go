// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "0.1.0-dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the knitterd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("knitterd version %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
