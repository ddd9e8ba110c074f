// Copyright (c) 2026 scancore authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/videoguard/scancore/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded scan history",
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyCompareCmd, historyTrendCmd, historyExportCmd)
}

func withStore(cmd *cobra.Command, fn func(*history.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

var (
	historyListDirectory string
	historyListLimit     int
)

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent scan runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store *history.Store) error {
			scans, err := store.RecentScans(cmd.Context(), historyListLimit, historyListDirectory)
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(scans)
		})
	},
}

func init() {
	historyListCmd.Flags().StringVar(&historyListDirectory, "directory", "", "restrict to scans rooted at this directory")
	historyListCmd.Flags().IntVar(&historyListLimit, "limit", 20, "maximum number of scans to return")
}

var historyShowCmd = &cobra.Command{
	Use:   "show <scan-id>",
	Short: "Show every result recorded against one scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scanID, err := parseScanID(args[0])
		if err != nil {
			return fmt.Errorf("invalid scan id %q: %w", args[0], err)
		}
		return withStore(cmd, func(store *history.Store) error {
			results, err := store.ResultsFor(cmd.Context(), scanID, history.ResultFilter{})
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(results)
		})
	},
}

var historyCompareCmd = &cobra.Command{
	Use:   "compare <scan-id-a> <scan-id-b>",
	Short: "Diff per-file verdicts between two scans",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := parseScanID(args[0])
		if err != nil {
			return fmt.Errorf("invalid scan id %q: %w", args[0], err)
		}
		b, err := parseScanID(args[1])
		if err != nil {
			return fmt.Errorf("invalid scan id %q: %w", args[1], err)
		}
		return withStore(cmd, func(store *history.Store) error {
			diff, err := store.Compare(cmd.Context(), a, b)
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(diff)
		})
	},
}

var (
	historyTrendDirectory string
	historyTrendDays      int
)

var historyTrendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Show the daily corruption rate trend for a directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store *history.Store) error {
			points, err := store.CorruptionTrend(cmd.Context(), historyTrendDirectory, historyTrendDays)
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(points)
		})
	},
}

func init() {
	historyTrendCmd.Flags().StringVar(&historyTrendDirectory, "directory", "", "directory the trend is scoped to")
	historyTrendCmd.Flags().IntVar(&historyTrendDays, "days", 30, "number of trailing days to aggregate")
	_ = historyTrendCmd.MarkFlagRequired("directory")
}

var (
	historyExportDirectory string
	historyExportFormat    string
	historyExportOut       string
)

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export result rows matching a filter as json, csv, or yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		format := history.ExportFormat(historyExportFormat)
		return withStore(cmd, func(store *history.Store) error {
			out := os.Stdout
			if historyExportOut != "" {
				f, err := os.Create(historyExportOut)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				return store.Export(cmd.Context(), history.ResultFilter{DirectoryPrefix: historyExportDirectory}, format, f)
			}
			return store.Export(cmd.Context(), history.ResultFilter{DirectoryPrefix: historyExportDirectory}, format, out)
		})
	},
}

func init() {
	historyExportCmd.Flags().StringVar(&historyExportDirectory, "directory", "", "restrict export to results under this directory prefix")
	historyExportCmd.Flags().StringVar(&historyExportFormat, "format", "json", "output format: json, csv, or yaml")
	historyExportCmd.Flags().StringVar(&historyExportOut, "out", "", "output file path; defaults to stdout")
}
