// Copyright (c) 2026 scancore authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/videoguard/scancore/internal/log"
	"github.com/videoguard/scancore/internal/scanrun"
)

var scanCmd = &cobra.Command{
	Use:   "scan <root>",
	Short: "Run one integrity scan of a directory tree to completion",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	configureLogging(cfg)
	logger := log.WithComponent("cli")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing history store")
		}
	}()

	driver := buildAnalyzer(cfg)
	cls := buildClassifier(cfg)
	cache := buildCache(cfg)

	ctrl := scanrun.New(cfg, store, cache, driver, driver, cls)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range ctrl.Progress() {
			logger.Info().
				Str("phase", string(p.Phase)).
				Int("discovered", p.Discovered).
				Int("eligible", p.Eligible).
				Int("processed", p.Processed).
				Int("healthy", p.Healthy).
				Int("corrupt", p.Corrupt).
				Int("suspicious", p.Suspicious).
				Msg("scan progress")
		}
	}()

	summary, err := ctrl.Run(ctx, args[0])
	<-done
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	fmt.Printf("scan %d (%s): discovered=%d eligible=%d processed=%d healthy=%d corrupt=%d suspicious=%d\n",
		summary.ID, summary.Mode, summary.Discovered, summary.Eligible, summary.Processed,
		summary.Healthy, summary.Corrupt, summary.Suspicious)
	return nil
}
