// Copyright (c) 2026 scancore authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command scancore is a thin CLI wrapper over the scanner core: it
// wires configuration, the history store and the run controller
// together for manual operation. The core's tested contract lives in
// internal/; this binary is demonstration wiring, not itself
// exhaustively tested.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:     "scancore",
	Short:   "Scan a directory tree for corrupt or suspicious video files",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (YAML); defaults applied when omitted")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
