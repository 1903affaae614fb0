// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Command aubogo runs the interception agent standalone for development
// and config validation. In production the agent is driven by the
// injecting host, which supplies the real capability table; here the
// table carries only the built-in symbol resolver, so the run reports
// how far the lifecycle gets against the local configuration.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aubo-project/aubogo/pkg/agent"
	"github.com/aubo-project/aubogo/pkg/config"
	"github.com/aubo-project/aubogo/pkg/host"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  string
		logLevel    string
		checkOnly   bool
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to configuration file")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.BoolVar(&checkOnly, "check", false, "validate configuration and exit")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("aubogo %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if checkOnly {
		fmt.Println("configuration OK")
		return
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting aubogo agent",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Standalone runs have no injecting host. Module loading goes
	// through the stub below so the lifecycle exercises the real search
	// and staging paths without a native linker.
	api := &host.API{LoadModule: func(path string) (host.Module, error) {
		return nil, fmt.Errorf("standalone run cannot link native module %s", path)
	}}

	a := agent.New(api, cfg, logger)
	if err := a.Attach(ctx); err != nil {
		logger.Warn("lifecycle halted, continuing degraded", zap.Error(err))
	}
	logger.Info("lifecycle settled", zap.Stringer("stage", a.Stage()))

	var watcher *config.Watcher
	if configPath != "" {
		watcher = config.NewWatcher(configPath, func(newCfg *config.Config) {
			if err := a.Reload(newCfg); err != nil {
				logger.Error("failed to apply reloaded config", zap.Error(err))
			}
		}, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Error("failed to start config watcher", zap.Error(err))
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			if watcher != nil {
				watcher.Stop()
			}
			cancel()

			shutdownDone := make(chan struct{})
			go func() {
				if err := a.Detach(); err != nil {
					logger.Error("error during shutdown", zap.Error(err))
				}
				close(shutdownDone)
			}()

			select {
			case <-shutdownDone:
				logger.Info("aubogo agent stopped")
			case <-time.After(30 * time.Second):
				logger.Error("shutdown timed out after 30s, forcing exit")
				os.Exit(1)
			}
			return

		case <-hupCh:
			logger.Info("received SIGHUP, reloading configuration")
			newCfg, err := loadConfig(configPath)
			if err != nil {
				logger.Error("failed to reload config", zap.Error(err))
				continue
			}
			if err := a.Reload(newCfg); err != nil {
				logger.Error("failed to apply new config", zap.Error(err))
			} else {
				logger.Info("configuration reloaded successfully")
			}
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default locations
	defaults := []string{
		"configs/aubogo.yaml",
		"/etc/aubogo/aubogo.yaml",
		"/data/adb/aubo-rs/aubogo.yaml",
	}
	for _, p := range defaults {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}

	cfg := config.DefaultConfig()
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return cfg.Build()
}
