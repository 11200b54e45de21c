// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "knitterd",
	Short: "Knitterd is the knitting machine controller daemon",
	Long: `Knitterd drives the knitting machine's stepper motor, runs uploaded
patterns, and serves the machine state over REST and websocket.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "knitterd.yaml", "Daemon configuration file")
}
