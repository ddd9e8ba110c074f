// Copyright (c) 2026 scancore authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"strconv"

	"github.com/videoguard/scancore/internal/analyzer"
	"github.com/videoguard/scancore/internal/classifier"
	"github.com/videoguard/scancore/internal/config"
	"github.com/videoguard/scancore/internal/history"
	"github.com/videoguard/scancore/internal/log"
	"github.com/videoguard/scancore/internal/probecache"
)

func loadConfig() (config.Config, error) {
	if cfgPath == "" {
		return config.Default(), nil
	}
	return config.Load(cfgPath)
}

func configureLogging(cfg config.Config) {
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "scancore", Version: version})
}

func openStore(ctx context.Context, cfg config.Config) (*history.Store, error) {
	return history.Open(ctx, cfg.History.Path, cfg.History.StaleRunSeconds)
}

func buildAnalyzer(cfg config.Config) analyzer.Driver {
	return analyzer.NewDriver(cfg)
}

func buildClassifier(cfg config.Config) classifier.Classifier {
	return classifier.New(cfg)
}

func buildCache(cfg config.Config) *probecache.Cache {
	if !cfg.ProbeCache.Enabled {
		return nil
	}
	return probecache.Load(cfg.ProbeCache.Path, cfg.ProbeCacheTTL())
}

func parseScanID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
